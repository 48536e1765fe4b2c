/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package report

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/timefmt"
)

func setupReport(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}, &models.DailyTotal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return NewService(db, zerolog.Nop()), db
}

func seedSession(t *testing.T, db *gorm.DB, userID, roomID, date string, join, leave int64) {
	t.Helper()
	s := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomID:    roomID,
		JoinTime:  join,
		LeaveTime: &leave,
		TimeSpent: timefmt.Format(leave - join),
		Date:      date,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

func seedOpenSession(t *testing.T, db *gorm.DB, userID, roomID, date string, join int64) {
	t.Helper()
	s := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomID:    roomID,
		JoinTime:  join,
		TimeSpent: timefmt.Zero,
		Date:      date,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to seed open session: %v", err)
	}
}

func TestRefreshMaterializesTotals(t *testing.T) {
	svc, db := setupReport(t)
	ctx := context.Background()

	seedSession(t, db, "u1", "lounge", "2026-08-01", 1000, 1600)
	seedSession(t, db, "u1", "lounge", "2026-08-01", 2000, 2300)
	seedSession(t, db, "u1", "stage", "2026-08-01", 3000, 3100)
	seedSession(t, db, "u2", "lounge", "2026-08-02", 4000, 4050)
	seedOpenSession(t, db, "u1", "lounge", "2026-08-02", 5000)

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	var total models.DailyTotal
	err := db.First(&total, "user_id = ? AND room_id = ? AND date = ?", "u1", "lounge", "2026-08-01").Error
	if err != nil {
		t.Fatalf("expected rollup row: %v", err)
	}
	if total.TotalSeconds != 900 {
		t.Errorf("expected 900 seconds, got %d", total.TotalSeconds)
	}
	if total.Sessions != 2 {
		t.Errorf("expected 2 sessions, got %d", total.Sessions)
	}

	// The open session contributes nothing until closed.
	var count int64
	db.Model(&models.DailyTotal{}).Where("date = ? AND user_id = ?", "2026-08-02", "u1").Count(&count)
	if count != 0 {
		t.Errorf("expected no rollup for open session, got %d rows", count)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	svc, db := setupReport(t)
	ctx := context.Background()

	seedSession(t, db, "u1", "lounge", "2026-08-01", 1000, 1500)
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}

	// A later session on the same day folds into the existing row.
	seedSession(t, db, "u1", "lounge", "2026-08-01", 2000, 2250)
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}

	var totals []models.DailyTotal
	if err := db.Find(&totals, "user_id = ?", "u1").Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected 1 rollup row, got %d", len(totals))
	}
	if totals[0].TotalSeconds != 750 {
		t.Errorf("expected 750 seconds, got %d", totals[0].TotalSeconds)
	}
	if totals[0].Sessions != 2 {
		t.Errorf("expected 2 sessions, got %d", totals[0].Sessions)
	}
}

func TestUserByDay(t *testing.T) {
	svc, db := setupReport(t)
	ctx := context.Background()

	seedSession(t, db, "u1", "lounge", "2026-08-01", 1000, 1600)
	seedSession(t, db, "u1", "stage", "2026-08-01", 2000, 2100)
	seedSession(t, db, "u1", "lounge", "2026-08-03", 3000, 3300)
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	rows, err := svc.UserByDay(ctx, "u1", "", "", "")
	if err != nil {
		t.Fatalf("UserByDay failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 days, got %d", len(rows))
	}
	if rows[0].Date != "2026-08-03" {
		t.Errorf("expected newest day first, got %q", rows[0].Date)
	}
	if rows[1].TotalSeconds != 700 {
		t.Errorf("expected 700 seconds across rooms, got %d", rows[1].TotalSeconds)
	}
	if rows[1].Formatted != "00:11:40" {
		t.Errorf("expected formatted 00:11:40, got %q", rows[1].Formatted)
	}

	// Room filter narrows to lounge only.
	rows, err = svc.UserByDay(ctx, "u1", "lounge", "", "")
	if err != nil {
		t.Fatalf("UserByDay failed: %v", err)
	}
	if len(rows) != 2 || rows[1].TotalSeconds != 600 {
		t.Errorf("expected lounge-only totals, got %+v", rows)
	}

	// Date bounds trim the range.
	rows, err = svc.UserByDay(ctx, "u1", "", "2026-08-02", "2026-08-04")
	if err != nil {
		t.Fatalf("UserByDay failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Date != "2026-08-03" {
		t.Errorf("expected only 2026-08-03 in range, got %+v", rows)
	}
}

func TestRoomLeaderboard(t *testing.T) {
	svc, db := setupReport(t)
	ctx := context.Background()

	seedSession(t, db, "u1", "lounge", "2026-08-01", 1000, 1500)
	seedSession(t, db, "u2", "lounge", "2026-08-01", 1000, 2000)
	seedSession(t, db, "u3", "lounge", "2026-08-02", 1000, 1100)
	seedSession(t, db, "u1", "stage", "2026-08-01", 1000, 9000)
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	entries, err := svc.RoomLeaderboard(ctx, "lounge", "", "", 2)
	if err != nil {
		t.Fatalf("RoomLeaderboard failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != "u2" || entries[0].Rank != 1 {
		t.Errorf("expected u2 first, got %+v", entries[0])
	}
	if entries[0].TotalSeconds != 1000 {
		t.Errorf("expected 1000 seconds for leader, got %d", entries[0].TotalSeconds)
	}
	if entries[1].UserID != "u1" {
		t.Errorf("expected u1 second, got %+v", entries[1])
	}
}
