package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fleet "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
)

func TestComputeTarget(t *testing.T) {
	t.Parallel()

	require.Nil(t, ComputeTarget(fleet.ModelOwnerPays, fleet.PaymentConfig{}))

	target := ComputeTarget(fleet.ModelDriverRemits, fleet.PaymentConfig{AmountCents: 5000, Frequency: fleet.FrequencyDaily})
	require.NotNil(t, target)
	require.Equal(t, int64(5000), *target)

	target = ComputeTarget(fleet.ModelHybrid, fleet.PaymentConfig{AmountCents: 3000, OwnerContributionCents: 2000, Frequency: fleet.FrequencyWeekly})
	require.NotNil(t, target)
	require.Equal(t, int64(3000), *target)
}

func TestPeriodBoundsDaily(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	start, end := PeriodBounds(fleet.FrequencyDaily, at)
	require.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBoundsWeeklyAnchorsOnMonday(t *testing.T) {
	t.Parallel()

	// 2026-03-11 is a Wednesday; its ISO week starts Monday 2026-03-09.
	wednesday := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	start, end := PeriodBounds(fleet.FrequencyWeekly, wednesday)
	require.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), end)

	// Sunday belongs to the same ISO week as the preceding Monday.
	sunday := time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)
	start, end = PeriodBounds(fleet.FrequencyWeekly, sunday)
	require.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), end)

	// Monday starts a new week.
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	start, _ = PeriodBounds(fleet.FrequencyWeekly, monday)
	require.Equal(t, monday, start)
}

func TestPeriodBoundsMonthly(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 31, 18, 0, 0, 0, time.UTC)
	start, end := PeriodBounds(fleet.FrequencyMonthly, at)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBoundsAreHalfOpenAndContiguous(t *testing.T) {
	t.Parallel()

	for _, freq := range []fleet.Frequency{fleet.FrequencyDaily, fleet.FrequencyWeekly, fleet.FrequencyMonthly} {
		at := time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC)
		start, end := PeriodBounds(freq, at)

		require.False(t, at.Before(start), "instant belongs to its own period (%s)", freq)
		require.True(t, at.Before(end), "end is exclusive (%s)", freq)

		// The period boundary instant falls in the next period, never both.
		nextStart, _ := PeriodBounds(freq, end)
		require.Equal(t, end, nextStart, "periods tile without gap or overlap (%s)", freq)
	}
}

func TestRemainingBalanceClampsAtZero(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(5000), RemainingBalance(5000, 0))
	require.Equal(t, int64(2000), RemainingBalance(5000, 3000))
	require.Equal(t, int64(0), RemainingBalance(5000, 5000))
	require.Equal(t, int64(0), RemainingBalance(5000, 12000))
}

func TestTargetReached(t *testing.T) {
	t.Parallel()

	require.True(t, TargetReached(0, nil), "no obligation counts as reached")

	remaining := int64(5000)
	require.False(t, TargetReached(4999, &remaining))
	require.True(t, TargetReached(5000, &remaining))
	require.True(t, TargetReached(12000, &remaining))
}

func TestOverpaymentCarriesIntoSamePeriod(t *testing.T) {
	t.Parallel()

	// Daily target of $50. A $120 remittance is approved, then a $70
	// remittance lands in the same period: the remaining target is already
	// zero, so the second one is reached regardless of its amount.
	target := int64(5000)

	first := RemainingBalance(target, 0)
	require.Equal(t, int64(5000), first)
	require.True(t, TargetReached(12000, &first))

	second := RemainingBalance(target, 12000)
	require.Equal(t, int64(0), second)
	require.True(t, TargetReached(7000, &second))
}

func TestTransitionDelta(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(-5000), TransitionDelta(StatusPending, StatusApproved, 5000))
	require.Equal(t, int64(5000), TransitionDelta(StatusApproved, StatusRejected, 5000))
	require.Equal(t, int64(5000), TransitionDelta(StatusApproved, StatusPending, 5000))
	require.Equal(t, int64(-5000), TransitionDelta(StatusRejected, StatusApproved, 5000))
	require.Zero(t, TransitionDelta(StatusPending, StatusRejected, 5000))
	require.Zero(t, TransitionDelta(StatusRejected, StatusPending, 5000))
}

func TestTransitionDeltaCyclesNetToSingleApproval(t *testing.T) {
	t.Parallel()

	amount := int64(7000)
	var debt int64 = 20000

	debt += TransitionDelta(StatusPending, StatusApproved, amount)
	debt += TransitionDelta(StatusApproved, StatusRejected, amount)
	debt += TransitionDelta(StatusRejected, StatusApproved, amount)

	require.Equal(t, int64(13000), debt)
}
