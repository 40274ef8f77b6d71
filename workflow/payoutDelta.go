package workflow

import "github.com/Shamiri-Institute/digitalhub-backend/models"

// PayoutDelta is the shared transition policy for both the single and batch
// recorders. Given the most recent statement reason for an attendance row
// (nil when the ledger has none), the newly submitted status, and the
// session's payout amount in minor units, it decides whether a statement
// must be appended and with what sign.
//
// The ledger records net financial events only: a statement is appended iff
// this is a first-time earn, or the resulting reason differs from the latest
// recorded one. Re-submitting the same status (double-clicks, re-renders)
// must never duplicate a fellow's payout history.
type PayoutDelta struct {
	Reason models.PayoutReason
	Amount int64
	Emit   bool
}

func ComputePayoutDelta(priorReason *models.PayoutReason, status models.AttendanceStatus, sessionAmount int64) PayoutDelta {
	var delta PayoutDelta
	switch status {
	case models.AttendanceStatusAttended:
		delta.Reason = models.PayoutReasonMarkAttendance
		delta.Amount = sessionAmount
	case models.AttendanceStatusMissed, models.AttendanceStatusUnmarked:
		delta.Reason = models.PayoutReasonUnmarkAttendance
		delta.Amount = -sessionAmount
	}

	if priorReason == nil {
		// First-time earn only; an unmark with no prior earn is a no-op.
		delta.Emit = delta.Reason == models.PayoutReasonMarkAttendance
		return delta
	}
	delta.Emit = *priorReason != delta.Reason
	return delta
}
