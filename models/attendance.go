package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// FellowAttendance holds one row per (fellow, session) pair, enforced by the
// uniq_fellow_session constraint. The row is created on first submission and
// updated in place until payroll sets processed_at; after that it is
// read-only for this service.
type FellowAttendance struct {
	ID        string  `gorm:"primary_key;size:30" json:"id"`
	FellowId  string  `gorm:"size:30;not null;index:uniq_fellow_session,unique,priority:1" json:"fellow_id"`
	SessionId string  `gorm:"size:30;not null;index:uniq_fellow_session,unique,priority:2" json:"session_id"`
	GroupId   *string `gorm:"size:30;index" json:"group_id"`
	SchoolId  *string `gorm:"size:30;index" json:"school_id"`
	// Attended is tri-state: true = attended, false = missed, NULL = unmarked.
	Attended        *bool      `json:"attended"`
	AbsenceReason   *string    `gorm:"size:255" json:"absence_reason"`
	AbsenceComments *string    `gorm:"type:text" json:"absence_comments"`
	MarkedBy        int        `gorm:"not null" json:"marked_by"`
	ProcessedAt     *time.Time `gorm:"index" json:"processed_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetFellowAttendance returns the row for the pair, or nil when none exists.
func GetFellowAttendance(tx *gorm.DB, fellowId string, sessionId string) (*FellowAttendance, error) {
	var attendance FellowAttendance
	err := tx.Where("fellow_id = ? AND session_id = ?", fellowId, sessionId).
		First(&attendance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attendance, nil
}

// GetSessionAttendances returns all attendance rows for one session limited
// to the given fellows, keyed by fellow id.
func GetSessionAttendances(tx *gorm.DB, sessionId string, fellowIds []string) (map[string]*FellowAttendance, error) {
	var rows []*FellowAttendance
	if err := tx.Where("session_id = ? AND fellow_id IN ?", sessionId, fellowIds).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	byFellow := make(map[string]*FellowAttendance, len(rows))
	for _, row := range rows {
		byFellow[row.FellowId] = row
	}
	return byFellow, nil
}
