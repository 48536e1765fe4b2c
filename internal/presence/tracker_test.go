/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

type staticRooms map[string]string

func (r staticRooms) Tracked(roomID string) bool {
	_, ok := r[roomID]
	return ok
}

func (r staticRooms) RoomName(roomID string) string {
	if name, ok := r[roomID]; ok {
		return name
	}
	return roomID
}

func setupTracker(t *testing.T) (*Tracker, *ledger.Ledger, *events.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// A single pooled connection keeps every goroutine on the same
	// in-memory database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	l := ledger.New(db, zerolog.Nop())
	bus := events.NewBus()
	rooms := staticRooms{"lounge": "Lounge", "stage": "Stage"}
	return NewTracker(l, rooms, bus, zerolog.Nop()), l, bus
}

func at(sec int64) time.Time { return time.Unix(sec, 0) }

func TestJoinOpensSession(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	err := tracker.Apply(ctx, Transition{
		UserID:     "u",
		FromRoomID: "",
		ToRoomID:   "lounge",
		ObservedAt: at(1000),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	open, err := l.OpenSession(ctx, "u", "lounge")
	if err != nil {
		t.Fatalf("expected open session: %v", err)
	}
	if open.JoinTime != 1000 {
		t.Errorf("expected join time 1000, got %d", open.JoinTime)
	}
	if open.RoomName != "Lounge" {
		t.Errorf("expected resolved room name, got %q", open.RoomName)
	}
}

func TestLeaveClosesSession(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(1000)})
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ObservedAt: at(1600)})

	sessions, err := l.Find(ctx, ledger.Filter{UserID: "u", ClosedOnly: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 closed session, got %d", len(sessions))
	}
	if sessions[0].TimeSpent != "00:10:00" {
		t.Errorf("expected 00:10:00, got %q", sessions[0].TimeSpent)
	}
}

func TestRoomMoveClosesAndOpens(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(0)})
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ToRoomID: "stage", ObservedAt: at(500)})

	closed, err := l.Find(ctx, ledger.Filter{UserID: "u", ClosedOnly: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(closed) != 1 || closed[0].RoomID != "lounge" {
		t.Fatalf("expected closed lounge session, got %+v", closed)
	}

	open, err := l.OpenSession(ctx, "u", "stage")
	if err != nil {
		t.Fatalf("expected open stage session: %v", err)
	}
	if open.JoinTime != 500 {
		t.Errorf("expected join time 500, got %d", open.JoinTime)
	}
}

func TestSameRoomTransitionIsNoOp(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(0)})
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ToRoomID: "lounge", ObservedAt: at(100)})

	open, err := l.OpenSession(ctx, "u", "lounge")
	if err != nil {
		t.Fatalf("expected session still open: %v", err)
	}
	if open.JoinTime != 0 {
		t.Errorf("same-room transition must not reopen, join time %d", open.JoinTime)
	}
}

func TestUntrackedRoomsFiltered(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	// Move fully between untracked rooms: nothing recorded.
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "afk", ToRoomID: "afk2", ObservedAt: at(0)})
	all, err := l.Find(ctx, ledger.Filter{UserID: "u"})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("untracked move must record nothing, got %d sessions", len(all))
	}

	// Move from untracked into tracked: behaves like a plain join.
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "afk", ToRoomID: "lounge", ObservedAt: at(100)})
	if _, err := l.OpenSession(ctx, "u", "lounge"); err != nil {
		t.Fatalf("expected open session: %v", err)
	}

	// Move from tracked into untracked: behaves like a plain leave.
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ToRoomID: "afk", ObservedAt: at(200)})
	if _, err := l.OpenSession(ctx, "u", "lounge"); !errors.Is(err, ledger.ErrNoOpenSession) {
		t.Fatalf("expected session closed, got %v", err)
	}
}

func TestDuplicateJoinDropped(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(0)})
	// A second bare join for the same room is dropped, not fatal.
	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(100)})

	open, err := l.Find(ctx, ledger.Filter{UserID: "u", OpenOnly: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(open) != 1 || open[0].JoinTime != 0 {
		t.Fatalf("expected original session untouched, got %+v", open)
	}
}

func TestLeaveWithoutJoinDropped(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	err := tracker.Apply(context.Background(), Transition{
		UserID:     "u",
		FromRoomID: "lounge",
		ObservedAt: at(100),
	})
	if err != nil {
		t.Fatalf("stale leave should be dropped, got %v", err)
	}
}

func TestIntegrityViolationSurfaces(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(1000)})

	err := tracker.Apply(ctx, Transition{UserID: "u", FromRoomID: "lounge", ObservedAt: at(900)})
	if !errors.Is(err, ledger.ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}

	// The session stays open and a later well-ordered leave still works.
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ObservedAt: at(1100)})
	closed, err := l.Find(ctx, ledger.Filter{UserID: "u", ClosedOnly: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(closed) != 1 || closed[0].TimeSpent != "00:01:40" {
		t.Fatalf("expected recovered close of 00:01:40, got %+v", closed)
	}
}

func TestSessionClosedEventPublished(t *testing.T) {
	tracker, _, bus := setupTracker(t)
	sub := bus.Subscribe(events.EventSessionClosed)

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(0)})
	mustApply(t, tracker, Transition{UserID: "u", FromRoomID: "lounge", ObservedAt: at(60)})

	select {
	case payload := <-sub:
		if payload["time_spent"] != "00:01:00" {
			t.Errorf("expected time_spent 00:01:00, got %v", payload["time_spent"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected session_closed event")
	}
}

func TestDroppedTransitionEventPublished(t *testing.T) {
	tracker, _, bus := setupTracker(t)
	sub := bus.Subscribe(events.EventTransitionDropped)

	expectDrop := func(reason string) {
		t.Helper()
		select {
		case payload := <-sub:
			if payload["reason"] != reason {
				t.Errorf("expected drop reason %q, got %v", reason, payload["reason"])
			}
		case <-time.After(time.Second):
			t.Fatalf("expected transition_dropped event with reason %q", reason)
		}
	}

	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(0)})
	mustApply(t, tracker, Transition{UserID: "u", ToRoomID: "lounge", ObservedAt: at(30)})
	expectDrop("duplicate_open")

	mustApply(t, tracker, Transition{UserID: "v", FromRoomID: "stage", ObservedAt: at(60)})
	expectDrop("no_open")

	mustApply(t, tracker, Transition{UserID: "w", FromRoomID: "attic", ToRoomID: "cellar", ObservedAt: at(90)})
	expectDrop("untracked")
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	tracker, l, _ := setupTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, user := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_ = tracker.Apply(ctx, Transition{UserID: userID, ToRoomID: "lounge", ObservedAt: at(0)})
			_ = tracker.Apply(ctx, Transition{UserID: userID, FromRoomID: "lounge", ObservedAt: at(30)})
		}(user)
	}
	wg.Wait()

	for _, user := range users {
		closed, err := l.Find(ctx, ledger.Filter{UserID: user, ClosedOnly: true})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(closed) != 1 || closed[0].TimeSpent != "00:00:30" {
			t.Errorf("user %s: expected one 00:00:30 session, got %+v", user, closed)
		}
	}
}

func mustApply(t *testing.T, tracker *Tracker, tr Transition) {
	t.Helper()
	if err := tracker.Apply(context.Background(), tr); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}
