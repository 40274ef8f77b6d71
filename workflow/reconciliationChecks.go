package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/models"
)

// LedgerFinding is one detected inconsistency between the attendance table
// and the payout statement ledger.
type LedgerFinding struct {
	FellowAttendanceId string `json:"fellow_attendance_id"`
	FellowId           string `json:"fellow_id"`
	Check              string `json:"check"`
	Detail             string `json:"detail"`
}

type LedgerAuditReport struct {
	AttendancesChecked int             `json:"attendances_checked"`
	StatementsChecked  int             `json:"statements_checked"`
	Findings           []LedgerFinding `json:"findings"`
}

// RunLedgerAudit cross-checks the attendance table against the payout
// ledger. Read-only; safe to run against production at any time. Invariants
// checked per attendance row:
//
//  1. the latest statement's reason agrees with the attended flag
//  2. every statement carries the attendance row's fellow id
//  3. the net ledger amount is 0 or exactly one positive payout; any other
//     net means statements were duplicated or emitted out of order
func RunLedgerAudit(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*LedgerAuditReport, error) {

	report := &LedgerAuditReport{Findings: []LedgerFinding{}}

	type auditRow struct {
		AttendanceId  string
		FellowId      string
		Attended      *bool
		NetAmount     int64
		AbsNetAmount  int64
		StatementRows int64
		LatestId      int
	}
	sql := `
SELECT
    fellow_attendances.id AS attendance_id,
    fellow_attendances.fellow_id,
    fellow_attendances.attended,
    COALESCE(SUM(payout_statements.amount), 0) AS net_amount,
    COALESCE(SUM(ABS(payout_statements.amount)), 0) AS abs_net_amount,
    COUNT(payout_statements.id) AS statement_rows,
    COALESCE(MAX(payout_statements.id), 0) AS latest_id
FROM fellow_attendances
    LEFT JOIN payout_statements ON payout_statements.fellow_attendance_id = fellow_attendances.id
GROUP BY fellow_attendances.id, fellow_attendances.fellow_id, fellow_attendances.attended;
`
	var rows []auditRow
	if err := db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		config.LogError(logger, "reconciliationChecks.go", "RunLedgerAudit", "AttendanceNetQuery", nil, err)
		return nil, err
	}

	for _, row := range rows {
		report.AttendancesChecked++
		report.StatementsChecked += int(row.StatementRows)

		if row.StatementRows == 0 {
			if row.Attended != nil && *row.Attended {
				report.Findings = append(report.Findings, LedgerFinding{
					FellowAttendanceId: row.AttendanceId,
					FellowId:           row.FellowId,
					Check:              "LATEST_REASON_MATCHES_FLAG",
					Detail:             "attended is true but the ledger has no statements",
				})
			}
			continue
		}

		var latest models.PayoutStatement
		if err := db.WithContext(ctx).First(&latest, row.LatestId).Error; err != nil {
			config.LogError(logger, "reconciliationChecks.go", "RunLedgerAudit", "GetLatestStatement", row.LatestId, err)
			return nil, err
		}

		attendedNow := row.Attended != nil && *row.Attended
		latestIsMark := latest.Reason == models.PayoutReasonMarkAttendance
		if attendedNow != latestIsMark {
			report.Findings = append(report.Findings, LedgerFinding{
				FellowAttendanceId: row.AttendanceId,
				FellowId:           row.FellowId,
				Check:              "LATEST_REASON_MATCHES_FLAG",
				Detail: fmt.Sprintf("attended=%t but latest statement reason is %s",
					attendedNow, latest.Reason),
			})
		}

		// All statements net to 0 (fully reversed) or one positive payout
		// (currently earned). Amounts are uniform per attendance row, so the
		// absolute sum divided by the row count gives the per-statement amount.
		perStatement := row.AbsNetAmount / row.StatementRows
		if row.NetAmount != 0 && row.NetAmount != perStatement {
			report.Findings = append(report.Findings, LedgerFinding{
				FellowAttendanceId: row.AttendanceId,
				FellowId:           row.FellowId,
				Check:              "NET_AMOUNT",
				Detail:             fmt.Sprintf("net amount %d is neither 0 nor a single payout of %d", row.NetAmount, perStatement),
			})
		}
	}

	var mismatched []models.PayoutStatement
	err := db.WithContext(ctx).
		Joins("JOIN fellow_attendances ON fellow_attendances.id = payout_statements.fellow_attendance_id").
		Where("fellow_attendances.fellow_id <> payout_statements.fellow_id").
		Find(&mismatched).Error
	if err != nil {
		config.LogError(logger, "reconciliationChecks.go", "RunLedgerAudit", "FellowIdMismatchQuery", nil, err)
		return nil, err
	}
	for _, s := range mismatched {
		report.Findings = append(report.Findings, LedgerFinding{
			FellowAttendanceId: s.FellowAttendanceId,
			FellowId:           s.FellowId,
			Check:              "FELLOW_ID_MATCHES",
			Detail:             fmt.Sprintf("statement %d names a different fellow than its attendance row", s.ID),
		})
	}

	return report, nil
}
