/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_presence/internal/db"
	"github.com/friendsincode/heimdall_presence/internal/identity"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import historical presence data",
}

var importLegacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Import sessions from a legacy activity database",
	Long:  "Replay rows from a legacy PostgreSQL activity table into the session ledger",
	RunE:  runImportLegacy,
}

var (
	legacyDBHost     string
	legacyDBPort     int
	legacyDBName     string
	legacyDBUser     string
	legacyDBPassword string
	legacyTable      string
	legacyDryRun     bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importLegacyCmd)

	importLegacyCmd.Flags().StringVar(&legacyDBHost, "db-host", "localhost", "Legacy database host")
	importLegacyCmd.Flags().IntVar(&legacyDBPort, "db-port", 5432, "Legacy database port")
	importLegacyCmd.Flags().StringVar(&legacyDBName, "db-name", "", "Legacy database name (required)")
	importLegacyCmd.Flags().StringVar(&legacyDBUser, "db-user", "", "Legacy database user (required)")
	importLegacyCmd.Flags().StringVar(&legacyDBPassword, "db-password", "", "Legacy database password")
	importLegacyCmd.Flags().StringVar(&legacyTable, "table", "activities", "Legacy activity table name")
	importLegacyCmd.Flags().BoolVar(&legacyDryRun, "dry-run", false, "Count importable rows without writing")
	importLegacyCmd.MarkFlagRequired("db-name")
	importLegacyCmd.MarkFlagRequired("db-user")
}

// legacyRow mirrors the legacy activity schema: one row per completed
// stay, auto-increment ID, unix-second timestamps.
type legacyRow struct {
	UserID      string
	DisplayName sql.NullString
	RoomID      string
	RoomName    sql.NullString
	JoinTime    int64
	LeaveTime   sql.NullInt64
}

// validTableName accepts plain SQL identifiers. The table name is spliced
// into the query text, so anything else is rejected up front.
var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func runImportLegacy(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !validTableName.MatchString(legacyTable) {
		return fmt.Errorf("invalid table name %q", legacyTable)
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		legacyDBHost, legacyDBPort, legacyDBName, legacyDBUser, legacyDBPassword)
	source, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open legacy database: %w", err)
	}
	defer source.Close()

	ctx := context.Background()
	if err := source.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to legacy database: %w", err)
	}

	// Replay in join order so running totals accumulate the same way
	// they would have live.
	query := fmt.Sprintf(
		`SELECT user_id, display_name, channel_id, channel_name, join_time, leave_time
		 FROM %s ORDER BY join_time ASC, id ASC`, legacyTable)
	rows, err := source.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query legacy table: %w", err)
	}
	defer rows.Close()

	var records []legacyRow
	skippedOpen := 0
	for rows.Next() {
		var row legacyRow
		if err := rows.Scan(&row.UserID, &row.DisplayName, &row.RoomID, &row.RoomName, &row.JoinTime, &row.LeaveTime); err != nil {
			return fmt.Errorf("scan legacy row: %w", err)
		}
		// Rows without a leave time were live when the legacy system
		// stopped; there is nothing meaningful to replay.
		if !row.LeaveTime.Valid {
			skippedOpen++
			continue
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read legacy rows: %w", err)
	}

	logger.Info().
		Int("rows", len(records)).
		Int("skipped_open", skippedOpen).
		Bool("dry_run", legacyDryRun).
		Msg("legacy rows loaded")

	if legacyDryRun {
		fmt.Printf("\nImport preview: %d sessions (%d open rows skipped)\n", len(records), skippedOpen)
		fmt.Printf("Run without --dry-run to perform the import.\n")
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	defer db.Close(database)

	l := ledger.New(database, logger)
	idsvc := identity.NewService(database, logger)

	imported := 0
	violations := 0
	for _, row := range records {
		roomName := row.RoomName.String
		if roomName == "" {
			roomName = row.RoomID
		}

		// Imported rooms become tracked registry entries so their data
		// keeps accruing after the cutover.
		room := models.Room{ID: row.RoomID, Name: roomName, Tracked: true}
		if err := database.WithContext(ctx).FirstOrCreate(&room, "id = ?", row.RoomID).Error; err != nil {
			return fmt.Errorf("register room %s: %w", row.RoomID, err)
		}

		if err := idsvc.Observe(ctx, row.UserID, row.DisplayName.String, time.Unix(row.LeaveTime.Int64, 0)); err != nil {
			logger.Warn().Err(err).Str("user_id", row.UserID).Msg("identity update failed")
		}

		_, err := l.Open(ctx, ledger.OpenRequest{
			UserID:      row.UserID,
			RoomID:      row.RoomID,
			RoomName:    roomName,
			DisplayName: row.DisplayName.String,
			JoinTime:    row.JoinTime,
		})
		if err != nil {
			logger.Warn().Err(err).
				Str("user_id", row.UserID).
				Str("room_id", row.RoomID).
				Int64("join_time", row.JoinTime).
				Msg("skipping row: open failed")
			continue
		}
		if _, err := l.CloseOpen(ctx, row.UserID, row.RoomID, row.LeaveTime.Int64); err != nil {
			violations++
			logger.Warn().Err(err).
				Str("user_id", row.UserID).
				Str("room_id", row.RoomID).
				Int64("leave_time", row.LeaveTime.Int64).
				Msg("row left open: close failed")
			continue
		}
		imported++
	}

	logger.Info().
		Int("imported", imported).
		Int("failed", violations).
		Msg("legacy import complete")
	fmt.Printf("\nImported %d sessions (%d failed, %d open rows skipped)\n", imported, violations, skippedOpen)
	return nil
}
