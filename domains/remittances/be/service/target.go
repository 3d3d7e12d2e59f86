package service

import (
	"time"

	fleet "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
)

// ComputeTarget derives the per-period remittance obligation in cents from a
// vehicle's payment model. OWNER_PAYS vehicles carry no obligation, so the
// target is nil rather than zero.
func ComputeTarget(model fleet.PaymentModel, cfg fleet.PaymentConfig) *int64 {
	switch model {
	case fleet.ModelDriverRemits, fleet.ModelHybrid:
		amount := cfg.AmountCents
		return &amount
	default:
		return nil
	}
}

// PeriodBounds returns the half-open interval [start, end) containing t for
// the given frequency. Daily periods run midnight to midnight, weekly periods
// are ISO weeks anchored on Monday 00:00, and monthly periods run first of
// month to first of next month. Every instant belongs to exactly one period.
func PeriodBounds(freq fleet.Frequency, t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	switch freq {
	case fleet.FrequencyWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// time.Weekday puts Sunday at 0; shift so Monday is the anchor.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case fleet.FrequencyMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

// RemainingBalance is how much of the target is still owed after the period's
// approved remittances. Overpayment clamps to zero, never negative.
func RemainingBalance(targetCents, approvedSumCents int64) int64 {
	remaining := targetCents - approvedSumCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TargetReached reports whether a remittance of the given amount satisfies
// the remaining target. A nil target means the vehicle carries no obligation,
// which counts as reached.
func TargetReached(amountCents int64, remainingCents *int64) bool {
	if remainingCents == nil {
		return true
	}
	return amountCents >= *remainingCents
}

// TransitionDelta is the debt ledger adjustment for a status change.
// Approving a remittance reduces the driver's debt by its amount; moving an
// approved remittance to any other state restores it. All other transitions
// leave the ledger untouched, so approve-reject-approve cycles net to a
// single approval.
func TransitionDelta(from, to Status, amountCents int64) int64 {
	var delta int64
	if from == StatusApproved {
		delta += amountCents
	}
	if to == StatusApproved {
		delta -= amountCents
	}
	return delta
}
