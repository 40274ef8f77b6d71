package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/models"
	"github.com/Shamiri-Institute/digitalhub-backend/utils"
)

func main() {
	username := flag.String("username", "", "Admin username (required)")
	name := flag.String("name", "", "Display name (defaults to username)")
	password := flag.String("password", "", "Password; falls back to SEED_ADMIN_PASSWORD env")
	flag.Parse()

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "-username is required")
		os.Exit(1)
	}
	pw := strings.TrimSpace(*password)
	if pw == "" {
		pw = strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD"))
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "password required via -password or SEED_ADMIN_PASSWORD")
		os.Exit(1)
	}
	displayName := strings.TrimSpace(*name)
	if displayName == "" {
		displayName = strings.TrimSpace(*username)
	}

	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(pw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.Where("username = ?", *username).Take(&existing).Error
	if err == nil {
		fmt.Fprintf(os.Stderr, "user %q already exists (id=%d)\n", *username, existing.ID)
		os.Exit(1)
	}

	user := models.User{
		Username: strings.TrimSpace(*username),
		Name:     displayName,
		Password: string(hashed),
		IsActive: utils.NewTrue(),
		Role:     models.UserRoleAdmin,
	}
	if err := db.Create(&user).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created admin user %q (id=%d)\n", user.Username, user.ID)
}
