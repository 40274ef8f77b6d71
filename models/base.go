package models

import (
	"log"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
)

// MigrateTable runs AutoMigrate for every model. Can run DDL that blocks
// tables; allow disabling on startup via SKIP_MIGRATIONS and run as a
// separate job instead.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Hub{},
		&School{},
		&Fellow{},
		&InterventionGroup{},
		&SessionType{},
		&InterventionSession{},
		&FellowAttendance{},
		&PayoutStatement{},
		&User{},
	)
	if err != nil {
		log.Printf("auto-migrate failed: %v", err)
		return
	}
	log.Println("database migrated")
}
