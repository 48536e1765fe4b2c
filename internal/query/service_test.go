/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package query

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/aggregate"
	"github.com/friendsincode/heimdall_presence/internal/cache"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

func setupService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	l := ledger.New(db, zerolog.Nop())
	svc := NewService(l, aggregate.New(db), cache.Disabled(zerolog.Nop()), zerolog.Nop())
	return svc, l
}

func recordSession(t *testing.T, l *ledger.Ledger, userID, roomID string, join, leave int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := l.Open(ctx, ledger.OpenRequest{UserID: userID, RoomID: roomID, JoinTime: join}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := l.CloseOpen(ctx, userID, roomID, leave); err != nil {
		t.Fatalf("CloseOpen failed: %v", err)
	}
}

func TestDurationZeroState(t *testing.T) {
	svc, _ := setupService(t)

	result, err := svc.Duration(context.Background(), "nobody", "")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if result.Seconds != 0 {
		t.Errorf("expected 0 seconds, got %d", result.Seconds)
	}
	if result.Formatted != "00:00:00" {
		t.Errorf("expected 00:00:00, got %q", result.Formatted)
	}
	if result.Sessions != 0 {
		t.Errorf("expected 0 sessions, got %d", result.Sessions)
	}
}

func TestDurationAcrossRooms(t *testing.T) {
	svc, l := setupService(t)

	recordSession(t, l, "u", "lounge", 0, 500)
	recordSession(t, l, "u", "stage", 1000, 1100)
	recordSession(t, l, "other", "lounge", 0, 999)

	result, err := svc.Duration(context.Background(), "u", "")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if result.Seconds != 600 {
		t.Errorf("expected 600 seconds, got %d", result.Seconds)
	}
	if result.Formatted != "00:10:00" {
		t.Errorf("expected 00:10:00, got %q", result.Formatted)
	}
	if result.Sessions != 2 {
		t.Errorf("expected 2 sessions, got %d", result.Sessions)
	}
}

func TestDurationScopedToRoom(t *testing.T) {
	svc, l := setupService(t)

	recordSession(t, l, "u", "lounge", 0, 500)
	recordSession(t, l, "u", "stage", 1000, 1100)

	result, err := svc.Duration(context.Background(), "u", "stage")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if result.Seconds != 100 {
		t.Errorf("expected 100 seconds, got %d", result.Seconds)
	}
	if result.Sessions != 1 {
		t.Errorf("expected 1 session, got %d", result.Sessions)
	}
}

func TestDurationExcludesOpenSessions(t *testing.T) {
	svc, l := setupService(t)
	ctx := context.Background()

	recordSession(t, l, "u", "lounge", 0, 300)
	if _, err := l.Open(ctx, ledger.OpenRequest{UserID: "u", RoomID: "lounge", JoinTime: 1000}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	result, err := svc.Duration(ctx, "u", "lounge")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if result.Seconds != 300 {
		t.Errorf("open sessions must not count, got %d", result.Seconds)
	}
}

func TestSessionsListing(t *testing.T) {
	svc, l := setupService(t)

	recordSession(t, l, "u", "lounge", 0, 100)
	recordSession(t, l, "u", "lounge", 200, 400)

	sessions, err := svc.Sessions(context.Background(), "u", "lounge", 0)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	// Newest first.
	if sessions[0].JoinTime != 200 {
		t.Errorf("expected newest session first, got join %d", sessions[0].JoinTime)
	}
}

func TestInvalidationConsumesSessionEvents(t *testing.T) {
	svc, _ := setupService(t)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartInvalidation(ctx, bus)

	// Opens and closes both pass through the invalidation loop; a
	// payload without identifiers is ignored.
	for i := 0; i < 20; i++ {
		bus.Publish(events.EventSessionOpened, events.Payload{"user_id": "u", "room_id": "lounge"})
		bus.Publish(events.EventSessionClosed, events.Payload{"user_id": "u", "room_id": "lounge"})
	}
	bus.Publish(events.EventSessionClosed, events.Payload{})

	time.Sleep(50 * time.Millisecond)
}
