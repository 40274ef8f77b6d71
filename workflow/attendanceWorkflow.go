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

// AttendanceInput is the shape-validated payload for one attendance decision.
// Role and schema validation happen in the HTTP layer; this package performs
// domain validation only (session state, group eligibility, idempotency).
type AttendanceInput struct {
	FellowId      string
	SessionId     string
	Status        models.AttendanceStatus
	AbsenceReason *string
	Comments      *string
}

type AttendanceResult struct {
	Message string `json:"message"`
}

// MarkAttendance records one fellow's attendance for a session and appends
// the payout statement the transition implies. Everything runs in a single
// transaction; any failure rolls back all mutations.
func MarkAttendance(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input AttendanceInput) (*AttendanceResult, error) {

	markedBy, _ := utils.GetUserIdFromContext(ctx)

	// Pin one connection for the whole lock/transact/release sequence:
	// GET_LOCK is connection-scoped, and the lock must outlive COMMIT so a
	// waiting submission can never read pre-commit ledger state.
	var result *AttendanceResult
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		// Enforce strict per-session ordering across instances.
		if err := AcquireSessionPostingLock(conn, input.SessionId); err != nil {
			config.LogError(logger, "attendanceWorkflow.go", "MarkAttendance", "AcquireSessionPostingLock", input.SessionId, err)
			return err
		}
		defer ReleaseSessionPostingLock(conn, input.SessionId)

		return conn.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = markAttendanceTx(tx, logger, markedBy, input)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func markAttendanceTx(tx *gorm.DB, logger *logrus.Logger, markedBy int, input AttendanceInput) (*AttendanceResult, error) {

	fellow, err := models.GetFellowById(tx, input.FellowId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewNotFound("fellow not found")
		}
		config.LogError(logger, "attendanceWorkflow.go", "markAttendanceTx", "GetFellowById", input.FellowId, err)
		return nil, err
	}

	session, err := models.GetSessionWithType(tx, input.SessionId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewNotFound("session not found")
		}
		config.LogError(logger, "attendanceWorkflow.go", "markAttendanceTx", "GetSessionWithType", input.SessionId, err)
		return nil, err
	}

	if !session.Occurred {
		return nil, NewInvalidState("session has not occurred")
	}

	existing, err := models.GetFellowAttendance(tx, input.FellowId, input.SessionId)
	if err != nil {
		config.LogError(logger, "attendanceWorkflow.go", "markAttendanceTx", "GetFellowAttendance", input, err)
		return nil, err
	}

	if existing != nil {
		if err := updateAttendance(tx, logger, markedBy, fellow, session, existing, input); err != nil {
			return nil, err
		}
	} else {
		if err := createAttendance(tx, logger, markedBy, fellow, session, input); err != nil {
			return nil, err
		}
	}

	return &AttendanceResult{Message: fmt.Sprintf("Attendance saved for %s", fellow.Name)}, nil
}

// updateAttendance handles the pair's subsequent submissions: locked check,
// idempotent statement append, in-place row update.
func updateAttendance(tx *gorm.DB, logger *logrus.Logger, markedBy int, fellow *models.Fellow, session *models.InterventionSession, existing *models.FellowAttendance, input AttendanceInput) error {

	if existing.ProcessedAt != nil {
		return NewLocked(fmt.Sprintf(
			"attendance for %s was already processed on %s and can no longer be changed",
			fellow.Name, existing.ProcessedAt.Format("2 Jan 2006"),
		))
	}

	if session.SessionType.PayoutAmount == nil {
		return NewConfigError(fmt.Sprintf("session type %q is missing a payout amount", session.SessionType.Name))
	}

	latest, err := models.GetLatestStatementForAttendance(tx, existing.ID)
	if err != nil {
		config.LogError(logger, "attendanceWorkflow.go", "updateAttendance", "GetLatestStatementForAttendance", existing.ID, err)
		return err
	}

	var priorReason *models.PayoutReason
	if latest != nil {
		priorReason = &latest.Reason
	}
	delta := ComputePayoutDelta(priorReason, input.Status, *session.SessionType.PayoutAmount)
	if delta.Emit {
		statement := models.PayoutStatement{
			FellowId:           fellow.ID,
			FellowAttendanceId: existing.ID,
			CreatedBy:          markedBy,
			Amount:             delta.Amount,
			Reason:             delta.Reason,
			MpesaNumber:        mpesaSnapshot(fellow),
		}
		if err := tx.Create(&statement).Error; err != nil {
			config.LogError(logger, "attendanceWorkflow.go", "updateAttendance", "CreatePayoutStatement", statement, err)
			return err
		}
	}

	updates := attendanceUpdates(markedBy, input)
	if err := tx.Model(&models.FellowAttendance{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		config.LogError(logger, "attendanceWorkflow.go", "updateAttendance", "UpdateFellowAttendance", existing.ID, err)
		return err
	}
	return nil
}

// createAttendance handles the pair's first submission: group resolution and
// eligibility, row creation, first-earn statement.
func createAttendance(tx *gorm.DB, logger *logrus.Logger, markedBy int, fellow *models.Fellow, session *models.InterventionSession, input AttendanceInput) error {

	var groupId *string
	if session.SchoolId != nil {
		group, err := models.GetGroupByLeader(tx, *session.SchoolId, fellow.ID)
		if err != nil {
			config.LogError(logger, "attendanceWorkflow.go", "createAttendance", "GetGroupByLeader", fellow.ID, err)
			return err
		}
		if err := validateGroupEligibility(fellow.Name, group, session.SessionType.Category); err != nil {
			return err
		}
		groupId = &group.ID
	}

	if session.SessionType.PayoutAmount == nil {
		return NewConfigError(fmt.Sprintf("session type %q is missing a payout amount", session.SessionType.Name))
	}

	attendance := models.FellowAttendance{
		ID:        uuid.NewString(),
		FellowId:  fellow.ID,
		SessionId: session.ID,
		GroupId:   groupId,
		SchoolId:  session.SchoolId,
		Attended:  input.Status.Bool(),
		MarkedBy:  markedBy,
	}
	if input.Status == models.AttendanceStatusMissed {
		attendance.AbsenceReason = input.AbsenceReason
		attendance.AbsenceComments = input.Comments
	}
	if err := tx.Create(&attendance).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return NewConflict(fmt.Sprintf("attendance for %s was recorded concurrently; please retry", fellow.Name))
		}
		config.LogError(logger, "attendanceWorkflow.go", "createAttendance", "CreateFellowAttendance", attendance, err)
		return err
	}

	if input.Status == models.AttendanceStatusAttended {
		statement := models.PayoutStatement{
			FellowId:           fellow.ID,
			FellowAttendanceId: attendance.ID,
			CreatedBy:          markedBy,
			Amount:             *session.SessionType.PayoutAmount,
			Reason:             models.PayoutReasonMarkAttendance,
			MpesaNumber:        mpesaSnapshot(fellow),
		}
		if err := tx.Create(&statement).Error; err != nil {
			config.LogError(logger, "attendanceWorkflow.go", "createAttendance", "CreatePayoutStatement", statement, err)
			return err
		}
	}
	return nil
}

// validateGroupEligibility enforces group rules for sessions held at a
// school: the fellow must lead a group there, and for INTERVENTION sessions
// that group must be a treatment group.
func validateGroupEligibility(fellowName string, group *models.InterventionGroup, category models.SessionCategory) error {
	if group == nil {
		return NewInvalidState(fmt.Sprintf("%s has no assigned group at this school", fellowName))
	}
	if group.GroupType != models.GroupTypeTreatment && category == models.SessionCategoryIntervention {
		return NewInvalidState(fmt.Sprintf("the group led by %s is not a treatment group", fellowName))
	}
	return nil
}

// attendanceUpdates builds the column map shared by single and batch
// updates. Absence fields are cleared unless the new status is missed.
func attendanceUpdates(markedBy int, input AttendanceInput) map[string]interface{} {
	updates := map[string]interface{}{
		"attended":         input.Status.Bool(),
		"absence_reason":   nil,
		"absence_comments": nil,
		"marked_by":        markedBy,
	}
	if input.Status == models.AttendanceStatusMissed {
		updates["absence_reason"] = input.AbsenceReason
		updates["absence_comments"] = input.Comments
	}
	return updates
}

func mpesaSnapshot(fellow *models.Fellow) string {
	normalized, err := utils.NormalizeMpesaNumber(fellow.MpesaNumber)
	if err != nil {
		// Snapshot the raw value rather than blocking the payout event.
		return fellow.MpesaNumber
	}
	return normalized
}
