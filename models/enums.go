package models

import "errors"

type SessionCategory string

const (
	SessionCategoryIntervention   SessionCategory = "INTERVENTION"
	SessionCategoryClinical       SessionCategory = "CLINICAL"
	SessionCategoryDataCollection SessionCategory = "DATA_COLLECTION"
	SessionCategorySupervision    SessionCategory = "SUPERVISION"
	SessionCategoryTraining       SessionCategory = "TRAINING"
)

func (c SessionCategory) Valid() bool {
	switch c {
	case SessionCategoryIntervention, SessionCategoryClinical, SessionCategoryDataCollection,
		SessionCategorySupervision, SessionCategoryTraining:
		return true
	}
	return false
}

type GroupType string

const (
	GroupTypeTreatment GroupType = "TREATMENT"
	GroupTypeControl   GroupType = "CONTROL"
)

type PayoutReason string

const (
	PayoutReasonMarkAttendance   PayoutReason = "MARK_SESSION_ATTENDANCE"
	PayoutReasonUnmarkAttendance PayoutReason = "UNMARK_SESSION_ATTENDANCE"
)

// AttendanceStatus is the tri-state submitted by supervisors. It maps onto
// the nullable attended column: attended -> true, missed -> false,
// unmarked -> NULL.
type AttendanceStatus string

const (
	AttendanceStatusAttended AttendanceStatus = "attended"
	AttendanceStatusMissed   AttendanceStatus = "missed"
	AttendanceStatusUnmarked AttendanceStatus = "unmarked"
)

var ErrInvalidAttendanceStatus = errors.New("invalid attendance status")

func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	switch AttendanceStatus(s) {
	case AttendanceStatusAttended:
		return AttendanceStatusAttended, nil
	case AttendanceStatusMissed:
		return AttendanceStatusMissed, nil
	case AttendanceStatusUnmarked, "":
		return AttendanceStatusUnmarked, nil
	}
	return "", ErrInvalidAttendanceStatus
}

// Bool returns the attended column value for this status.
func (s AttendanceStatus) Bool() *bool {
	switch s {
	case AttendanceStatusAttended:
		b := true
		return &b
	case AttendanceStatusMissed:
		b := false
		return &b
	default:
		return nil
	}
}

type UserRole string

const (
	UserRoleAdmin          UserRole = "ADMIN"
	UserRoleSupervisor     UserRole = "SUPERVISOR"
	UserRoleHubCoordinator UserRole = "HUB_COORDINATOR"
)

// CanRecordAttendance reports whether the role may submit attendance
// decisions. Admins are allowed for operational cleanup.
func (r UserRole) CanRecordAttendance() bool {
	switch r {
	case UserRoleAdmin, UserRoleSupervisor, UserRoleHubCoordinator:
		return true
	}
	return false
}
