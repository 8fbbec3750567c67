package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
)

func TestAllowPassesBeneathLimit(t *testing.T) {
	l := New(memkv.New(), Config{Window: time.Minute, MaxPerCharger: 3, MaxGlobal: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := l.Allow(ctx, "MeterValues", "CP-1")
		require.NoError(t, err)
		require.Nil(t, v)
	}
}

func TestAllowRejectsOnFirstExcessAndKeepsIncrementing(t *testing.T) {
	l := New(memkv.New(), Config{Window: time.Minute, MaxPerCharger: 2, MaxGlobal: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := l.Allow(ctx, "MeterValues", "CP-1")
		require.NoError(t, err)
		require.Nil(t, v)
	}

	violation, err := l.Allow(ctx, "MeterValues", "CP-1")
	require.NoError(t, err)
	require.NotNil(t, violation)
	require.Equal(t, "charger", violation.Scope)

	// Subsequent calls within the same window keep incrementing and
	// keep being rejected — this is the deliberately-preserved ordering.
	violation, err = l.Allow(ctx, "MeterValues", "CP-1")
	require.NoError(t, err)
	require.NotNil(t, violation)
}

func TestAllowIgnoresUnlimitedActions(t *testing.T) {
	l := New(memkv.New(), Config{Window: time.Minute, MaxPerCharger: 1, MaxGlobal: 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, err := l.Allow(ctx, "Heartbeat", "CP-1")
		require.NoError(t, err)
		require.Nil(t, v)
	}
}

func TestFloodLogOnlyFirstCallerLogs(t *testing.T) {
	f := NewFloodLog(memkv.New(), time.Minute)
	ctx := context.Background()

	first, err := f.ShouldLog(ctx, "unauthorized", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, first)

	second, err := f.ShouldLog(ctx, "unauthorized", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, second)
}
