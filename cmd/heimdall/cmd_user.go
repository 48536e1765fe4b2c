/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_presence/internal/auth"
	"github.com/friendsincode/heimdall_presence/internal/db"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API user",
	Long:  "Create a user account for HTTP API login and API key issuance",
	RunE:  runUserCreate,
}

var (
	userEmail    string
	userPassword string
	userRole     string
)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email (required)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "User password (required)")
	userCreateCmd.Flags().StringVar(&userRole, "role", string(models.RoleViewer), "Role: admin, operator, or viewer")
	userCreateCmd.MarkFlagRequired("email")
	userCreateCmd.MarkFlagRequired("password")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	role := models.RoleName(userRole)
	switch role {
	case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", userRole)
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	defer db.Close(database)

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    userEmail,
		Password: hash,
		Role:     role,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created %s user %s (%s)\n", user.Role, user.Email, user.ID)
	return nil
}
