/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package query answers duration questions over the session ledger.
package query

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_presence/internal/aggregate"
	"github.com/friendsincode/heimdall_presence/internal/cache"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/timefmt"
)

// Result is one answered duration query. A user with no recorded sessions
// gets a zero result, not an error.
type Result struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Seconds     int64  `json:"seconds"`
	Formatted   string `json:"formatted"`
	Sessions    int    `json:"sessions"`
}

// Service combines the aggregator and the formatter behind a cache.
type Service struct {
	ledger     *ledger.Ledger
	aggregator *aggregate.Aggregator
	cache      *cache.Cache
	logger     zerolog.Logger
}

// NewService creates a query service.
func NewService(l *ledger.Ledger, agg *aggregate.Aggregator, c *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		ledger:     l,
		aggregator: agg,
		cache:      c,
		logger:     logger.With().Str("component", "query").Logger(),
	}
}

// Duration answers how long the user has spent in a room, or across all rooms
// when roomID is empty. Only closed sessions count.
func (s *Service) Duration(ctx context.Context, userID, roomID string) (*Result, error) {
	if cached, ok := s.cache.GetDuration(ctx, userID, roomID); ok {
		return &Result{
			UserID:    cached.UserID,
			RoomID:    cached.RoomID,
			Seconds:   cached.Seconds,
			Formatted: cached.Formatted,
			Sessions:  cached.Sessions,
		}, nil
	}

	seconds, err := s.aggregator.TotalSeconds(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.ledger.Find(ctx, ledger.Filter{UserID: userID, RoomID: roomID, ClosedOnly: true})
	if err != nil {
		return nil, err
	}

	result := &Result{
		UserID:    userID,
		RoomID:    roomID,
		Seconds:   seconds,
		Formatted: timefmt.Format(seconds),
		Sessions:  len(sessions),
	}

	if err := s.cache.SetDuration(ctx, &cache.CachedDuration{
		UserID:    result.UserID,
		RoomID:    result.RoomID,
		Seconds:   result.Seconds,
		Formatted: result.Formatted,
		Sessions:  result.Sessions,
	}); err != nil {
		// Cache failures degrade, they never fail the query.
		s.logger.Debug().Err(err).Msg("duration cache write failed")
	}

	return result, nil
}

// Sessions lists a user's sessions, newest first, optionally scoped to a room.
func (s *Service) Sessions(ctx context.Context, userID, roomID string, limit int) ([]models.Session, error) {
	return s.ledger.Find(ctx, ledger.Filter{UserID: userID, RoomID: roomID, Limit: limit})
}

// StartInvalidation subscribes to session opens and closes and drops stale
// cache entries until ctx is cancelled. Opens and closes both change room
// occupancy; only closes change durations.
func (s *Service) StartInvalidation(ctx context.Context, bus *events.Bus) {
	opened := bus.Subscribe(events.EventSessionOpened)
	closed := bus.Subscribe(events.EventSessionClosed)
	go func() {
		for {
			select {
			case <-ctx.Done():
				bus.Unsubscribe(events.EventSessionOpened, opened)
				bus.Unsubscribe(events.EventSessionClosed, closed)
				return
			case payload, ok := <-opened:
				if !ok {
					return
				}
				s.invalidateOccupancy(ctx, payload)
			case payload, ok := <-closed:
				if !ok {
					return
				}
				s.invalidateOccupancy(ctx, payload)
				userID, _ := payload["user_id"].(string)
				if userID == "" {
					continue
				}
				if err := s.cache.InvalidateUser(ctx, userID); err != nil {
					s.logger.Debug().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
				}
			}
		}
	}()
}

func (s *Service) invalidateOccupancy(ctx context.Context, payload events.Payload) {
	roomID, _ := payload["room_id"].(string)
	if roomID == "" {
		return
	}
	if err := s.cache.InvalidateOccupancy(ctx, roomID); err != nil {
		s.logger.Debug().Err(err).Str("room_id", roomID).Msg("occupancy invalidation failed")
	}
}
