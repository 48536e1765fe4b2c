/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presence turns room transition events into ledger operations.
//
// The state machine is driven entirely by the transition's endpoints: an
// empty FromRoomID means the user was nowhere, an empty ToRoomID means the
// user left. Room moves decompose into a close and an open, each standing on
// its own. Per-user locks keep one user's transitions ordered while distinct
// users proceed concurrently.
package presence

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/telemetry"
)

const lockStripes = 64

// RoomDirectory answers which rooms are tracked and what they are called.
type RoomDirectory interface {
	Tracked(roomID string) bool
	RoomName(roomID string) string
}

// Transition is one observed movement of a user between rooms. Empty room
// IDs mean "not in any room" on that side.
type Transition struct {
	UserID      string
	DisplayName string
	FromRoomID  string
	ToRoomID    string
	ObservedAt  time.Time
}

// Tracker applies transitions to the session ledger.
type Tracker struct {
	ledger *ledger.Ledger
	rooms  RoomDirectory
	bus    *events.Bus
	logger zerolog.Logger

	locks [lockStripes]sync.Mutex
}

// NewTracker creates a presence tracker.
func NewTracker(l *ledger.Ledger, rooms RoomDirectory, bus *events.Bus, logger zerolog.Logger) *Tracker {
	return &Tracker{
		ledger: l,
		rooms:  rooms,
		bus:    bus,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

func (t *Tracker) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &t.locks[h.Sum32()%lockStripes]
}

// Apply runs one transition through the state machine. Duplicate opens and
// closes without a matching open are dropped, not returned; only persistence
// failures and integrity violations surface as errors.
func (t *Tracker) Apply(ctx context.Context, tr Transition) error {
	if tr.UserID == "" {
		t.logger.Warn().Msg("dropping transition without user id")
		return nil
	}
	if tr.FromRoomID == tr.ToRoomID {
		// Same-room events carry no state change.
		return nil
	}

	from := tr.FromRoomID
	if from != "" && !t.rooms.Tracked(from) {
		from = ""
	}
	to := tr.ToRoomID
	if to != "" && !t.rooms.Tracked(to) {
		to = ""
	}
	if from == "" && to == "" {
		telemetry.PresenceTransitionsDropped.WithLabelValues("untracked").Inc()
		t.bus.Publish(events.EventTransitionDropped, events.Payload{
			"user_id":   tr.UserID,
			"from_room": tr.FromRoomID,
			"to_room":   tr.ToRoomID,
			"reason":    "untracked",
		})
		return nil
	}
	if from == to {
		// Filtering collapsed a move between untracked rooms' edges.
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "presence", "tracker.apply")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"presence.user_id":   tr.UserID,
		"presence.from_room": from,
		"presence.to_room":   to,
	})

	lock := t.userLock(tr.UserID)
	lock.Lock()
	defer lock.Unlock()

	instant := tr.ObservedAt.Unix()

	// Room moves decompose into a close and an open that stand on their
	// own: a rejected close still lets the open proceed.
	var closeErr error
	if from != "" {
		closeErr = t.closeSession(ctx, tr, from, instant)
	}
	if to != "" {
		if err := t.openSession(ctx, tr, to, instant); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	if closeErr != nil {
		telemetry.RecordError(span, closeErr)
	}
	return closeErr
}

func (t *Tracker) openSession(ctx context.Context, tr Transition, roomID string, joinTime int64) error {
	session, err := t.ledger.Open(ctx, ledger.OpenRequest{
		UserID:      tr.UserID,
		RoomID:      roomID,
		RoomName:    t.rooms.RoomName(roomID),
		DisplayName: tr.DisplayName,
		JoinTime:    joinTime,
	})
	if errors.Is(err, ledger.ErrDuplicateOpenSession) {
		telemetry.PresenceTransitionsDropped.WithLabelValues("duplicate_open").Inc()
		t.logger.Warn().
			Str("user_id", tr.UserID).
			Str("room_id", roomID).
			Msg("dropping open: session already open")
		t.bus.Publish(events.EventTransitionDropped, events.Payload{
			"user_id": tr.UserID,
			"room_id": roomID,
			"reason":  "duplicate_open",
		})
		return nil
	}
	if err != nil {
		return err
	}

	telemetry.PresenceSessionsOpened.Inc()
	t.bus.Publish(events.EventSessionOpened, events.Payload{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"room_id":    session.RoomID,
		"room_name":  session.RoomName,
		"join_time":  session.JoinTime,
	})
	return nil
}

func (t *Tracker) closeSession(ctx context.Context, tr Transition, roomID string, leaveTime int64) error {
	session, err := t.ledger.CloseOpen(ctx, tr.UserID, roomID, leaveTime)
	if errors.Is(err, ledger.ErrNoOpenSession) {
		telemetry.PresenceTransitionsDropped.WithLabelValues("no_open").Inc()
		t.logger.Warn().
			Str("user_id", tr.UserID).
			Str("room_id", roomID).
			Msg("dropping close: no open session")
		t.bus.Publish(events.EventTransitionDropped, events.Payload{
			"user_id": tr.UserID,
			"room_id": roomID,
			"reason":  "no_open",
		})
		return nil
	}
	if errors.Is(err, ledger.ErrIntegrityViolation) {
		telemetry.PresenceIntegrityViolations.Inc()
		t.logger.Error().
			Str("user_id", tr.UserID).
			Str("room_id", roomID).
			Int64("leave_time", leaveTime).
			Msg("integrity violation: leave precedes join")
		t.bus.Publish(events.EventIntegrityViolation, events.Payload{
			"user_id":    tr.UserID,
			"room_id":    roomID,
			"leave_time": leaveTime,
		})
		return err
	}
	if err != nil {
		return err
	}

	telemetry.PresenceSessionsClosed.Inc()
	t.bus.Publish(events.EventSessionClosed, events.Payload{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"room_id":    session.RoomID,
		"room_name":  session.RoomName,
		"time_spent": session.TimeSpent,
		"total_time": session.TotalTime,
	})
	return nil
}

// OpenSessions lists currently open sessions, optionally scoped to a room.
func (t *Tracker) OpenSessions(ctx context.Context, roomID string) ([]models.Session, error) {
	return t.ledger.Find(ctx, ledger.Filter{RoomID: roomID, OpenOnly: true})
}
