package models

import (
	"time"

	"gorm.io/gorm"
)

type SessionType struct {
	ID       string          `gorm:"primary_key;size:30" json:"id"`
	Name     string          `gorm:"size:255;not null" json:"name"`
	Category SessionCategory `gorm:"type:enum('INTERVENTION','CLINICAL','DATA_COLLECTION','SUPERVISION','TRAINING');not null" json:"category"`
	// PayoutAmount is the per-attendance payout in currency minor units.
	// NULL means the type has not been configured for payouts yet.
	PayoutAmount *int64    `json:"payout_amount"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type InterventionSession struct {
	ID            string      `gorm:"primary_key;size:30" json:"id"`
	SessionTypeId string      `gorm:"size:30;index;not null" json:"session_type_id"`
	SessionType   SessionType `gorm:"foreignKey:SessionTypeId" json:"session_type"`
	// SchoolId is nullable: supervision/training sessions have no school.
	SchoolId    *string   `gorm:"size:30;index" json:"school_id"`
	ScheduledAt time.Time `gorm:"index;not null" json:"scheduled_at"`
	Occurred    bool      `gorm:"not null;default:false;index" json:"occurred"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSessionWithType(tx *gorm.DB, sessionId string) (*InterventionSession, error) {
	var session InterventionSession
	if err := tx.Preload("SessionType").Where("id = ?", sessionId).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkSessionOccurred flips the occurrence flag. Attendance can only be
// recorded against occurred sessions.
func MarkSessionOccurred(tx *gorm.DB, sessionId string, occurred bool) error {
	result := tx.Model(&InterventionSession{}).Where("id = ?", sessionId).
		Update("occurred", occurred)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
