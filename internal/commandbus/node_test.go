package commandbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
)

func TestNodeDirectoryRegisterAndLookup(t *testing.T) {
	store := memkv.New()
	dir := NewNodeDirectory(store, "node-a", time.Minute)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx))

	record, ok, err := LookupNode(ctx, store, "node-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, NodeCommandTopic("node-a"), record.CommandTopic)
	require.Equal(t, SessionControlTopic("node-a"), record.SessionControlTopic)
	require.False(t, record.StartedAt.IsZero())
}

func TestNodeDirectoryHeartbeatPreservesStartedAt(t *testing.T) {
	store := memkv.New()
	dir := NewNodeDirectory(store, "node-a", time.Minute)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx))
	first, _, _ := LookupNode(ctx, store, "node-a")

	require.NoError(t, dir.Heartbeat(ctx))
	second, _, _ := LookupNode(ctx, store, "node-a")

	require.Equal(t, first.StartedAt, second.StartedAt)
	require.False(t, second.LastSeenAt.Before(first.LastSeenAt))
}

func TestResolveCommandTopicFallsBackWhenNoDirectoryEntry(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()

	topic := ResolveCommandTopic(ctx, store, "node-unknown")
	require.Equal(t, NodeCommandTopic("node-unknown"), topic)
}
