package models

import (
	"time"

	"gorm.io/gorm"
)

// InterventionGroup is a fellow-led group of students at a school. Only
// TREATMENT groups are eligible for intervention-session attendance.
type InterventionGroup struct {
	ID             string    `gorm:"primary_key;size:30" json:"id"`
	SchoolId       string    `gorm:"size:30;index;not null;index:idx_group_school_leader,priority:1" json:"school_id"`
	LeaderFellowId string    `gorm:"size:30;index;not null;index:idx_group_school_leader,priority:2" json:"leader_fellow_id"`
	Name           string    `gorm:"size:255" json:"name"`
	GroupType      GroupType `gorm:"type:enum('TREATMENT','CONTROL');not null;default:'TREATMENT'" json:"group_type"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetGroupsByLeaders returns each fellow's group at the given school, keyed
// by leader id. One query for the whole batch.
func GetGroupsByLeaders(tx *gorm.DB, schoolId string, leaderIds []string) (map[string]*InterventionGroup, error) {
	var groups []*InterventionGroup
	if err := tx.Where("school_id = ? AND leader_fellow_id IN ?", schoolId, leaderIds).
		Find(&groups).Error; err != nil {
		return nil, err
	}
	byLeader := make(map[string]*InterventionGroup, len(groups))
	for _, g := range groups {
		// A fellow leads at most one group per school; keep the first row if
		// dirty data says otherwise.
		if _, ok := byLeader[g.LeaderFellowId]; !ok {
			byLeader[g.LeaderFellowId] = g
		}
	}
	return byLeader, nil
}

func GetGroupByLeader(tx *gorm.DB, schoolId string, leaderId string) (*InterventionGroup, error) {
	byLeader, err := GetGroupsByLeaders(tx, schoolId, []string{leaderId})
	if err != nil {
		return nil, err
	}
	return byLeader[leaderId], nil
}
