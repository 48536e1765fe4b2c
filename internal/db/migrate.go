/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Accounts and credentials
		&models.User{},
		&models.APIKey{},

		// Presence accounting
		&models.Identity{},
		&models.Room{},
		&models.Session{},
		&models.DailyTotal{},

		// Operational records
		&models.AuditLog{},
		&models.Webhook{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
