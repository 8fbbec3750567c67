package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
)

func TestCacheHitReturnsStoredBytes(t *testing.T) {
	c := New(memkv.New(), time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "CP-1", "msg-1")
	require.False(t, ok)

	c.Store(ctx, "CP-1", "msg-1", []byte(`[3,"msg-1",{}]`))

	got, ok := c.Get(ctx, "CP-1", "msg-1")
	require.True(t, ok)
	require.Equal(t, []byte(`[3,"msg-1",{}]`), got)
}

func TestCacheDisabledWhenTTLNonPositive(t *testing.T) {
	c := New(memkv.New(), 0)
	ctx := context.Background()

	c.Store(ctx, "CP-1", "msg-1", []byte(`[3,"msg-1",{}]`))
	_, ok := c.Get(ctx, "CP-1", "msg-1")
	require.False(t, ok)
}

func TestCacheFallsBackToSharedStoreAfterLocalEviction(t *testing.T) {
	store := memkv.New()
	c := New(store, time.Minute)
	ctx := context.Background()

	c.Store(ctx, "CP-1", "msg-1", []byte(`[3,"msg-1",{}]`))
	delete(c.local, cacheKey("CP-1", "msg-1"))

	got, ok := c.Get(ctx, "CP-1", "msg-1")
	require.True(t, ok)
	require.Equal(t, []byte(`[3,"msg-1",{}]`), got)
}
