package models

import "time"

type Hub struct {
	ID        string    `gorm:"primary_key;size:30" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	County    string    `gorm:"size:100" json:"county"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type School struct {
	ID        string    `gorm:"primary_key;size:30" json:"id"`
	HubId     string    `gorm:"size:30;index;not null" json:"hub_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
