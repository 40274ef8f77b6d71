package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/models"
	"github.com/Shamiri-Institute/digitalhub-backend/utils"
)

type BatchAttendanceEntry struct {
	FellowId      string
	Status        models.AttendanceStatus
	AbsenceReason *string
	Comments      *string
}

type BatchAttendanceInput struct {
	SessionId string
	Entries   []BatchAttendanceEntry
}

type BatchAttendanceResult struct {
	Message string `json:"message"`
	Saved   int    `json:"saved"`
}

// MarkManyAttendance records attendance for a whole session roster in one
// transaction. The batch is all-or-nothing: the first entry that fails any
// check rolls back every row and statement, so a supervisor's screen never
// half-saves. Per-entry semantics are identical to MarkAttendance.
func MarkManyAttendance(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input BatchAttendanceInput) (*BatchAttendanceResult, error) {

	if len(input.Entries) == 0 {
		return nil, NewInvalidState("no attendance entries submitted")
	}
	fellowIds := make([]string, 0, len(input.Entries))
	seen := make(map[string]bool, len(input.Entries))
	for _, entry := range input.Entries {
		if seen[entry.FellowId] {
			return nil, NewInvalidState(fmt.Sprintf("fellow %s appears more than once in the submission", entry.FellowId))
		}
		seen[entry.FellowId] = true
		fellowIds = append(fellowIds, entry.FellowId)
	}

	markedBy, _ := utils.GetUserIdFromContext(ctx)

	// Pin one connection for the whole lock/transact/release sequence:
	// GET_LOCK is connection-scoped, and the lock must outlive COMMIT so a
	// waiting submission can never read pre-commit ledger state.
	var result *BatchAttendanceResult
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		// Enforce strict per-session ordering across instances.
		if err := AcquireSessionPostingLock(conn, input.SessionId); err != nil {
			config.LogError(logger, "attendanceBatchWorkflow.go", "MarkManyAttendance", "AcquireSessionPostingLock", input.SessionId, err)
			return err
		}
		defer ReleaseSessionPostingLock(conn, input.SessionId)

		return conn.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = markManyAttendanceTx(tx, logger, markedBy, fellowIds, input)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func markManyAttendanceTx(tx *gorm.DB, logger *logrus.Logger, markedBy int, fellowIds []string, input BatchAttendanceInput) (*BatchAttendanceResult, error) {

	session, err := models.GetSessionWithType(tx, input.SessionId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewNotFound("session not found")
		}
		config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "GetSessionWithType", input.SessionId, err)
		return nil, err
	}
	if !session.Occurred {
		return nil, NewInvalidState("session has not occurred")
	}
	if session.SessionType.PayoutAmount == nil {
		return nil, NewConfigError(fmt.Sprintf("session type %q is missing a payout amount", session.SessionType.Name))
	}
	payoutAmount := *session.SessionType.PayoutAmount

	fellows, err := models.GetFellowsByIds(tx, fellowIds)
	if err != nil {
		config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "GetFellowsByIds", fellowIds, err)
		return nil, err
	}
	fellowsById := make(map[string]*models.Fellow, len(fellows))
	for _, fellow := range fellows {
		fellowsById[fellow.ID] = fellow
	}
	for _, fellowId := range fellowIds {
		if fellowsById[fellowId] == nil {
			return nil, NewNotFound(fmt.Sprintf("fellow %s not found", fellowId))
		}
	}

	var groupsByLeader map[string]*models.InterventionGroup
	if session.SchoolId != nil {
		groupsByLeader, err = models.GetGroupsByLeaders(tx, *session.SchoolId, fellowIds)
		if err != nil {
			config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "GetGroupsByLeaders", fellowIds, err)
			return nil, err
		}
	}

	existingByFellow, err := models.GetSessionAttendances(tx, input.SessionId, fellowIds)
	if err != nil {
		config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "GetSessionAttendances", input.SessionId, err)
		return nil, err
	}

	// Validate everything before writing anything, so failure messages come
	// out before partial work has to roll back.
	var updateEntries, createEntries []BatchAttendanceEntry
	existingIds := []string{}
	for _, entry := range input.Entries {
		fellow := fellowsById[entry.FellowId]
		existing := existingByFellow[entry.FellowId]
		if existing != nil {
			if existing.ProcessedAt != nil {
				return nil, NewLocked(fmt.Sprintf(
					"attendance for %s was already processed on %s and can no longer be changed",
					fellow.Name, existing.ProcessedAt.Format("2 Jan 2006"),
				))
			}
			updateEntries = append(updateEntries, entry)
			existingIds = append(existingIds, existing.ID)
			continue
		}
		if session.SchoolId != nil {
			if err := validateGroupEligibility(fellow.Name, groupsByLeader[entry.FellowId], session.SessionType.Category); err != nil {
				return nil, err
			}
		}
		createEntries = append(createEntries, entry)
	}

	latestByAttendance, err := models.GetLatestStatementsForAttendances(tx, existingIds)
	if err != nil {
		config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "GetLatestStatementsForAttendances", existingIds, err)
		return nil, err
	}

	var statements []models.PayoutStatement

	for _, entry := range updateEntries {
		fellow := fellowsById[entry.FellowId]
		existing := existingByFellow[entry.FellowId]

		var priorReason *models.PayoutReason
		if latest := latestByAttendance[existing.ID]; latest != nil {
			priorReason = &latest.Reason
		}
		delta := ComputePayoutDelta(priorReason, entry.Status, payoutAmount)
		if delta.Emit {
			statements = append(statements, models.PayoutStatement{
				FellowId:           fellow.ID,
				FellowAttendanceId: existing.ID,
				CreatedBy:          markedBy,
				Amount:             delta.Amount,
				Reason:             delta.Reason,
				MpesaNumber:        mpesaSnapshot(fellow),
			})
		}

		updates := attendanceUpdates(markedBy, AttendanceInput{
			Status:        entry.Status,
			AbsenceReason: entry.AbsenceReason,
			Comments:      entry.Comments,
		})
		if err := tx.Model(&models.FellowAttendance{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "UpdateFellowAttendance", existing.ID, err)
			return nil, err
		}
	}

	var newRows []models.FellowAttendance
	for _, entry := range createEntries {
		fellow := fellowsById[entry.FellowId]

		var groupId *string
		if session.SchoolId != nil {
			groupId = &groupsByLeader[entry.FellowId].ID
		}
		row := models.FellowAttendance{
			ID:        uuid.NewString(),
			FellowId:  fellow.ID,
			SessionId: session.ID,
			GroupId:   groupId,
			SchoolId:  session.SchoolId,
			Attended:  entry.Status.Bool(),
			MarkedBy:  markedBy,
		}
		if entry.Status == models.AttendanceStatusMissed {
			row.AbsenceReason = entry.AbsenceReason
			row.AbsenceComments = entry.Comments
		}
		newRows = append(newRows, row)

		if entry.Status == models.AttendanceStatusAttended {
			statements = append(statements, models.PayoutStatement{
				FellowId:           fellow.ID,
				FellowAttendanceId: row.ID,
				CreatedBy:          markedBy,
				Amount:             payoutAmount,
				Reason:             models.PayoutReasonMarkAttendance,
				MpesaNumber:        mpesaSnapshot(fellow),
			})
		}
	}
	if len(newRows) > 0 {
		if err := tx.Create(&newRows).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return nil, NewConflict("attendance for this session was recorded concurrently; please retry")
			}
			config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "CreateFellowAttendances", len(newRows), err)
			return nil, err
		}
	}
	if len(statements) > 0 {
		if err := tx.Create(&statements).Error; err != nil {
			config.LogError(logger, "attendanceBatchWorkflow.go", "markManyAttendanceTx", "CreatePayoutStatements", len(statements), err)
			return nil, err
		}
	}

	return &BatchAttendanceResult{
		Message: fmt.Sprintf("Attendance saved for %d fellows", len(input.Entries)),
		Saved:   len(input.Entries),
	}, nil
}
