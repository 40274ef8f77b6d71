package config

import (
	"context"
	"errors"
	"strings"

	"github.com/Shamiri-Institute/digitalhub-backend/appctx"
	"gorm.io/gorm"
)

// LedgerGuardPlugin enforces the append-only invariant on the payout
// statement ledger: rows may be inserted but never updated or deleted through
// the ORM. Attendance corrections are expressed as new reversal statements,
// not edits.
//
// NOTE:
// - This does NOT apply to Raw SQL. Raw statements must respect the invariant
//   manually.
// - Internal ops bypass is explicit via context flag.
type LedgerGuardPlugin struct{}

func NewLedgerGuardPlugin() *LedgerGuardPlugin { return &LedgerGuardPlugin{} }

func (p *LedgerGuardPlugin) Name() string { return "ledger_guard" }

var ErrLedgerImmutable = errors.New("payout statements are append-only")

// appendOnlyTables lists tables the guard protects.
var appendOnlyTables = map[string]bool{
	"payout_statements": true,
}

func (p *LedgerGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("ledger_guard:update", ledgerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("ledger_guard:delete", ledgerGuardCallback); err != nil {
		return err
	}
	return nil
}

func ledgerGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if !StrictPayoutLedgerImmutability() {
		return
	}
	if shouldBypassLedgerGuard(db.Statement.Context) {
		return
	}
	table := strings.ToLower(strings.TrimSpace(db.Statement.Table))
	if table == "" && db.Statement.Schema != nil {
		table = strings.ToLower(db.Statement.Schema.Table)
	}
	if appendOnlyTables[table] {
		db.AddError(ErrLedgerImmutable)
	}
}

func shouldBypassLedgerGuard(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	if v, ok := ctx.Value(appctx.ContextKeySkipLedgerGuard).(bool); ok && v {
		return true
	}
	return false
}
