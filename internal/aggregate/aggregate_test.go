/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package aggregate

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func closedSession(userID, roomID, date string, join, leave int64) models.Session {
	return models.Session{
		UserID:    userID,
		RoomID:    roomID,
		Date:      date,
		JoinTime:  join,
		LeaveTime: &leave,
	}
}

func TestTotalIgnoresOpenSessions(t *testing.T) {
	sessions := []models.Session{
		closedSession("u", "r1", "2026-08-01", 0, 300),
		closedSession("u", "r1", "2026-08-01", 1000, 1200),
		{UserID: "u", RoomID: "r1", JoinTime: 2000}, // still open
	}

	if got := Total(sessions); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestTotalEmpty(t *testing.T) {
	if got := Total(nil); got != 0 {
		t.Errorf("expected 0 for no sessions, got %d", got)
	}
	if got := FormatTotal(Total(nil)); got != "00:00:00" {
		t.Errorf("expected 00:00:00, got %q", got)
	}
}

func TestTotalAtIncludesOpenPortion(t *testing.T) {
	now := time.Unix(2100, 0)
	sessions := []models.Session{
		closedSession("u", "r1", "2026-08-01", 0, 300),
		{UserID: "u", RoomID: "r1", JoinTime: 2000},
	}

	if got := TotalAt(sessions, now); got != 400 {
		t.Errorf("expected 400, got %d", got)
	}

	// An open session joined after now contributes nothing.
	future := []models.Session{{UserID: "u", RoomID: "r1", JoinTime: 9000}}
	if got := TotalAt(future, now); got != 0 {
		t.Errorf("expected 0 for future join, got %d", got)
	}
}

func TestByRoom(t *testing.T) {
	sessions := []models.Session{
		closedSession("u", "r1", "2026-08-01", 0, 100),
		closedSession("u", "r2", "2026-08-01", 0, 250),
		closedSession("u", "r1", "2026-08-02", 500, 700),
	}

	totals := ByRoom(sessions)
	if totals["r1"] != 300 {
		t.Errorf("expected 300 for r1, got %d", totals["r1"])
	}
	if totals["r2"] != 250 {
		t.Errorf("expected 250 for r2, got %d", totals["r2"])
	}
}

func TestTotalSeconds(t *testing.T) {
	db := setupTestDB(t)
	agg := New(db)
	ctx := context.Background()

	seed := []models.Session{
		closedSession("u", "r1", "2026-08-01", 0, 100),
		closedSession("u", "r2", "2026-08-01", 0, 250),
		{ID: "open-1", UserID: "u", RoomID: "r1", JoinTime: 500, TimeSpent: "00:00:00", TotalTime: "00:00:00"},
		closedSession("other", "r1", "2026-08-01", 0, 999),
	}
	for i := range seed {
		if seed[i].ID == "" {
			seed[i].ID = seed[i].UserID + seed[i].RoomID + seed[i].Date
		}
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	total, err := agg.TotalSeconds(ctx, "u", "")
	if err != nil {
		t.Fatalf("TotalSeconds failed: %v", err)
	}
	if total != 350 {
		t.Errorf("expected 350 across rooms, got %d", total)
	}

	total, err = agg.TotalSeconds(ctx, "u", "r1")
	if err != nil {
		t.Fatalf("TotalSeconds failed: %v", err)
	}
	if total != 100 {
		t.Errorf("expected 100 for r1, got %d", total)
	}

	total, err = agg.TotalSeconds(ctx, "nobody", "")
	if err != nil {
		t.Fatalf("TotalSeconds failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected 0 for unknown user, got %d", total)
	}

	withOpen, err := agg.TotalSecondsWithOpen(ctx, "u", "r1", time.Unix(800, 0))
	if err != nil {
		t.Fatalf("TotalSecondsWithOpen failed: %v", err)
	}
	if withOpen != 400 {
		t.Errorf("expected 400 including open portion, got %d", withOpen)
	}
}

func TestByDate(t *testing.T) {
	sessions := []models.Session{
		closedSession("u", "r1", "2026-08-01", 0, 100),
		closedSession("u", "r2", "2026-08-01", 0, 50),
		closedSession("u", "r1", "2026-08-02", 500, 700),
	}

	totals := ByDate(sessions)
	if totals["2026-08-01"] != 150 {
		t.Errorf("expected 150 for 2026-08-01, got %d", totals["2026-08-01"])
	}
	if totals["2026-08-02"] != 200 {
		t.Errorf("expected 200 for 2026-08-02, got %d", totals["2026-08-02"])
	}
}
