package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutStatement is the append-only payout ledger. Each attendance
// transition that changes the net financial state appends one signed row;
// rows are never updated or deleted (see config.LedgerGuardPlugin). The most
// recent statement for an attendance row determines its current net reason.
type PayoutStatement struct {
	ID                 int    `gorm:"primary_key" json:"id"`
	FellowId           string `gorm:"size:30;not null;index" json:"fellow_id"`
	FellowAttendanceId string `gorm:"size:30;not null;index:idx_ps_attendance_id" json:"fellow_attendance_id"`
	CreatedBy          int    `gorm:"not null" json:"created_by"`
	// Amount is signed, in currency minor units: positive = earn, negative = reversal.
	Amount int64        `gorm:"not null" json:"amount"`
	Reason PayoutReason `gorm:"type:enum('MARK_SESSION_ATTENDANCE','UNMARK_SESSION_ATTENDANCE');not null" json:"reason"`
	// MpesaNumber snapshots the fellow's payout destination at event time.
	MpesaNumber string    `gorm:"size:20" json:"mpesa_number"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// GetLatestStatementForAttendance returns the most recent statement for the
// attendance row, or nil when the ledger has none.
func GetLatestStatementForAttendance(tx *gorm.DB, attendanceId string) (*PayoutStatement, error) {
	var statement PayoutStatement
	err := tx.Where("fellow_attendance_id = ?", attendanceId).
		Order("id DESC").
		First(&statement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &statement, nil
}

// GetLatestStatementsForAttendances returns the most recent statement per
// attendance row, keyed by attendance id. One query for the whole batch.
func GetLatestStatementsForAttendances(tx *gorm.DB, attendanceIds []string) (map[string]*PayoutStatement, error) {
	if len(attendanceIds) == 0 {
		return map[string]*PayoutStatement{}, nil
	}
	var statements []*PayoutStatement
	err := tx.Where("id IN (?)",
		tx.Session(&gorm.Session{NewDB: true}).Model(&PayoutStatement{}).
			Select("MAX(id)").
			Where("fellow_attendance_id IN ?", attendanceIds).
			Group("fellow_attendance_id"),
	).Find(&statements).Error
	if err != nil {
		return nil, err
	}
	byAttendance := make(map[string]*PayoutStatement, len(statements))
	for _, s := range statements {
		byAttendance[s.FellowAttendanceId] = s
	}
	return byAttendance, nil
}

type FellowPayoutSummary struct {
	FellowId       string          `json:"fellow_id"`
	FellowName     string          `json:"fellow_name"`
	MpesaNumber    string          `json:"mpesa_number"`
	StatementCount int64           `json:"statement_count"`
	NetMinorUnits  int64           `json:"net_minor_units"`
	NetKES         decimal.Decimal `json:"net_kes"`
}

// GetFellowPayoutSummary reconstructs a fellow's net earned amount from the
// ledger. Net is the sum of signed amounts; KES is derived from minor units.
func GetFellowPayoutSummary(ctx context.Context, db *gorm.DB, fellowId string) (*FellowPayoutSummary, error) {
	sql := `
SELECT
    fellows.id AS fellow_id,
    fellows.name AS fellow_name,
    fellows.mpesa_number,
    COUNT(payout_statements.id) AS statement_count,
    COALESCE(SUM(payout_statements.amount), 0) AS net_minor_units
FROM fellows
    LEFT JOIN payout_statements ON payout_statements.fellow_id = fellows.id
WHERE fellows.id = ?
GROUP BY fellows.id, fellows.name, fellows.mpesa_number;
`
	var summary FellowPayoutSummary
	result := db.WithContext(ctx).Raw(sql, fellowId).Scan(&summary)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 || summary.FellowId == "" {
		return nil, gorm.ErrRecordNotFound
	}
	summary.NetKES = decimal.NewFromInt(summary.NetMinorUnits).Div(decimal.NewFromInt(100))
	return &summary, nil
}
