package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(start time.Time) (*MemoryStore, *time.Time) {
	now := start
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestLimiterExactBudgetPerWindow(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(store, 5, 15*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := limiter.Allow(ctx, "admin-1")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should pass", i)
		require.Equal(t, 5-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "admin-1")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 0, decision.Remaining)
}

func TestLimiterWindowReset(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	store, now := newTestStore(start)
	limiter := NewLimiter(store, 2, time.Minute)
	ctx := context.Background()

	for range 2 {
		decision, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	*now = start.Add(time.Minute + time.Second)

	decision, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(store, 1, time.Minute)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	blocked, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestMemoryStorePrunesExpiredWindows(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	store, now := newTestStore(start)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := store.Incr(ctx, key, time.Minute)
		require.NoError(t, err)
	}
	require.Len(t, store.windows, 3)

	*now = start.Add(2 * time.Minute)
	_, _, err := store.Incr(ctx, "d", time.Minute)
	require.NoError(t, err)
	require.Len(t, store.windows, 1)
}

func TestDecisionRetryAfterFloorsAtOneSecond(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := Decision{Reset: now.Add(500 * time.Millisecond)}
	require.Equal(t, 1, d.RetryAfter(now))

	d = Decision{Reset: now.Add(42 * time.Second)}
	require.GreaterOrEqual(t, d.RetryAfter(now), 42)
}
