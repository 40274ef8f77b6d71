package config

import (
	"os"
	"strings"
)

// StrictPayoutLedgerImmutability enables fintech-grade guardrails:
// payout statements cannot be updated or deleted through the ORM; corrections
// must be appended as reversal statements.
//
// Set via env:
// - STRICT_PAYOUT_LEDGER_IMMUTABLE=true
func StrictPayoutLedgerImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_PAYOUT_LEDGER_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AttendanceAdvisoryLock gates the per-session MySQL advisory lock taken
// around attendance submissions. On by default; set to "false" only when the
// datastore does not support GET_LOCK (e.g. Vitess).
//
// Set via env:
// - ATTENDANCE_ADVISORY_LOCK=false
func AttendanceAdvisoryLock() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ATTENDANCE_ADVISORY_LOCK")))
	if v == "" {
		return true
	}
	return v != "0" && v != "false" && v != "no" && v != "n"
}
