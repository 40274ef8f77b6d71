package reports

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type PayoutStatementLine struct {
	StatementId   int             `json:"statementId"`
	CreatedAt     time.Time       `json:"createdAt"`
	FellowId      string          `json:"fellowId"`
	FellowName    string          `json:"fellowName"`
	SessionId     string          `json:"sessionId"`
	SessionName   string          `json:"sessionName"`
	SchoolName    *string         `json:"schoolName,omitempty"`
	Reason        string          `json:"reason"`
	AmountMinor   int64           `json:"amountMinor"`
	AmountKES     decimal.Decimal `json:"amountKes"`
	MpesaNumber   string          `json:"mpesaNumber"`
	CreatedByName string          `json:"createdByName"`
}

// GetPayoutStatementReport returns a fellow's full payout history in ledger
// order, oldest first. Amounts stay signed so the running sum reconciles to
// the fellow's net.
func GetPayoutStatementReport(ctx context.Context, db *gorm.DB, fellowId string) ([]*PayoutStatementLine, error) {

	sql := `
SELECT
    payout_statements.id AS statement_id,
    payout_statements.created_at,
    payout_statements.fellow_id,
    fellows.name AS fellow_name,
    fellow_attendances.session_id,
    session_types.name AS session_name,
    schools.name AS school_name,
    payout_statements.reason,
    payout_statements.amount AS amount_minor,
    payout_statements.mpesa_number,
    COALESCE(users.name, '') AS created_by_name
FROM
    payout_statements
    INNER JOIN fellows ON fellows.id = payout_statements.fellow_id
    INNER JOIN fellow_attendances ON fellow_attendances.id = payout_statements.fellow_attendance_id
    INNER JOIN intervention_sessions ON intervention_sessions.id = fellow_attendances.session_id
    INNER JOIN session_types ON session_types.id = intervention_sessions.session_type_id
    LEFT JOIN schools ON schools.id = fellow_attendances.school_id
    LEFT JOIN users ON users.id = payout_statements.created_by
WHERE
    payout_statements.fellow_id = @fellowId
ORDER BY
    payout_statements.id;
`
	var lines []*PayoutStatementLine
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fellowId": fellowId,
	}).Scan(&lines).Error; err != nil {
		return nil, err
	}
	for _, line := range lines {
		line.AmountKES = decimal.NewFromInt(line.AmountMinor).Div(decimal.NewFromInt(100))
	}
	return lines, nil
}

// ExportPayoutStatementExcel streams the fellow's payout history as an xlsx
// attachment.
func ExportPayoutStatementExcel(w http.ResponseWriter, lines []*PayoutStatementLine, fellowId string) error {

	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "Date")
	f.SetCellValue(sheetName, "B1", "Fellow")
	f.SetCellValue(sheetName, "C1", "Session")
	f.SetCellValue(sheetName, "D1", "School")
	f.SetCellValue(sheetName, "E1", "Reason")
	f.SetCellValue(sheetName, "F1", "Amount (KES)")
	f.SetCellValue(sheetName, "G1", "Mpesa Number")
	f.SetCellValue(sheetName, "H1", "Recorded By")

	// Add data
	running := decimal.Zero
	for i, line := range lines {
		row := fmt.Sprint(i + 2)
		schoolName := ""
		if line.SchoolName != nil {
			schoolName = *line.SchoolName
		}
		f.SetCellValue(sheetName, "A"+row, line.CreatedAt.Format("2006-01-02 15:04"))
		f.SetCellValue(sheetName, "B"+row, line.FellowName)
		f.SetCellValue(sheetName, "C"+row, line.SessionName)
		f.SetCellValue(sheetName, "D"+row, schoolName)
		f.SetCellValue(sheetName, "E"+row, line.Reason)
		f.SetCellValue(sheetName, "F"+row, line.AmountKES.StringFixed(2))
		f.SetCellValue(sheetName, "G"+row, line.MpesaNumber)
		f.SetCellValue(sheetName, "H"+row, line.CreatedByName)
		running = running.Add(line.AmountKES)
	}
	totalRow := fmt.Sprint(len(lines) + 2)
	f.SetCellValue(sheetName, "E"+totalRow, "Net")
	f.SetCellValue(sheetName, "F"+totalRow, running.StringFixed(2))

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=payout-statements-%s.xlsx", fellowId))
	return f.Write(w)
}
