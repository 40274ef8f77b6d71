package models

import (
	"time"

	"gorm.io/gorm"
)

type Fellow struct {
	ID          string    `gorm:"primary_key;size:30" json:"id"`
	HubId       string    `gorm:"size:30;index" json:"hub_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Email       *string   `gorm:"size:100" json:"email"`
	MpesaNumber string    `gorm:"size:20" json:"mpesa_number"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetFellowById(tx *gorm.DB, fellowId string) (*Fellow, error) {
	var fellow Fellow
	if err := tx.Where("id = ?", fellowId).First(&fellow).Error; err != nil {
		return nil, err
	}
	return &fellow, nil
}

func GetFellowsByIds(tx *gorm.DB, fellowIds []string) ([]*Fellow, error) {
	var fellows []*Fellow
	if err := tx.Where("id IN ?", fellowIds).Find(&fellows).Error; err != nil {
		return nil, err
	}
	return fellows, nil
}
