package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryReplayGuardAdmitsFreshReference(t *testing.T) {
	t.Parallel()

	guard := NewMemoryReplayGuard(time.Hour)
	err := guard.Check(context.Background(), "FP-1", time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestMemoryReplayGuardRejectsEqualAndOlderTimestamps(t *testing.T) {
	t.Parallel()

	guard := NewMemoryReplayGuard(time.Hour)
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts))

	err := guard.Check(context.Background(), "FP-1", ts)
	require.ErrorIs(t, err, ErrReplayDetected)

	err = guard.Check(context.Background(), "FP-1", ts.Add(-time.Minute))
	require.ErrorIs(t, err, ErrReplayDetected)
}

func TestMemoryReplayGuardAdmitsNewerTimestamp(t *testing.T) {
	t.Parallel()

	guard := NewMemoryReplayGuard(time.Hour)
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts))
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts.Add(time.Second)))

	// The watermark advanced: the first timestamp is now a replay.
	require.ErrorIs(t, guard.Check(context.Background(), "FP-1", ts), ErrReplayDetected)
}

func TestMemoryReplayGuardTracksReferencesIndependently(t *testing.T) {
	t.Parallel()

	guard := NewMemoryReplayGuard(time.Hour)
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts))
	require.NoError(t, guard.Check(context.Background(), "FP-2", ts))
}

func TestMemoryReplayGuardPrunesExpiredWatermarks(t *testing.T) {
	t.Parallel()

	guard := NewMemoryReplayGuard(time.Hour)
	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return clock }

	ts := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts))

	// After the retention window the watermark is forgotten and the same
	// timestamp is admitted again.
	clock = clock.Add(2 * time.Hour)
	require.NoError(t, guard.Check(context.Background(), "FP-1", ts))
}
