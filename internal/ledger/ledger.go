/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger is the append/update store of presence sessions. Opens and
// closes for the same (user, room) pair are serialized through transactional
// guards so at most one open session exists per pair at any instant.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/timefmt"
)

var (
	// ErrDuplicateOpenSession indicates an open session already exists for
	// the (user, room) pair.
	ErrDuplicateOpenSession = errors.New("open session already exists for user and room")

	// ErrNoOpenSession indicates there is no open session to close for the
	// (user, room) pair.
	ErrNoOpenSession = errors.New("no open session for user and room")

	// ErrIntegrityViolation indicates a close would produce negative elapsed
	// time. The close is never persisted.
	ErrIntegrityViolation = errors.New("leave time precedes join time")
)

// Ledger stores sessions in a single table keyed by (user_id, room_id).
type Ledger struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a session ledger backed by the given database handle.
func New(db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// OpenRequest contains parameters for opening a session.
type OpenRequest struct {
	UserID      string
	RoomID      string
	RoomName    string
	DisplayName string
	JoinTime    int64
}

// Open creates a new open session for (UserID, RoomID). It fails with
// ErrDuplicateOpenSession when an open session already exists for the pair;
// the guard runs inside the insert transaction so concurrent opens for the
// same pair cannot both succeed.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (*models.Session, error) {
	session := &models.Session{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		RoomID:      req.RoomID,
		RoomName:    req.RoomName,
		JoinTime:    req.JoinTime,
		TimeSpent:   timefmt.Zero,
		TotalTime:   timefmt.Zero,
		Date:        time.Unix(req.JoinTime, 0).Format("2006-01-02"),
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Session{}).
			Where("user_id = ? AND room_id = ? AND leave_time IS NULL", req.UserID, req.RoomID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check open session: %w", err)
		}
		if count > 0 {
			return ErrDuplicateOpenSession
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Str("room_id", session.RoomID).
		Int64("join_time", session.JoinTime).
		Msg("session opened")

	return session, nil
}

// CloseOpen closes the most recent open session for (userID, roomID), setting
// leave time, elapsed time, and the running total for the pair in one update.
// Returns ErrNoOpenSession when nothing is open and ErrIntegrityViolation
// when leaveTime precedes the recorded join time; neither persists anything.
func (l *Ledger) CloseOpen(ctx context.Context, userID, roomID string, leaveTime int64) (*models.Session, error) {
	var closed models.Session

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		result := tx.
			Where("user_id = ? AND room_id = ? AND leave_time IS NULL", userID, roomID).
			Order("join_time DESC").
			First(&session)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrNoOpenSession
		}
		if result.Error != nil {
			return fmt.Errorf("find open session: %w", result.Error)
		}

		elapsed := leaveTime - session.JoinTime
		if elapsed < 0 {
			return fmt.Errorf("%w: join=%d leave=%d", ErrIntegrityViolation, session.JoinTime, leaveTime)
		}

		// Running total over prior closed sessions for the pair, plus this one.
		var prior int64
		if err := tx.Model(&models.Session{}).
			Select("COALESCE(SUM(leave_time - join_time), 0)").
			Where("user_id = ? AND room_id = ? AND leave_time IS NOT NULL", userID, roomID).
			Scan(&prior).Error; err != nil {
			return fmt.Errorf("sum closed sessions: %w", err)
		}
		total := prior + elapsed

		updates := map[string]any{
			"leave_time": leaveTime,
			"time_spent": timefmt.Format(elapsed),
			"total_time": timefmt.Format(total),
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", session.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		session.LeaveTime = &leaveTime
		session.TimeSpent = timefmt.Format(elapsed)
		session.TotalTime = timefmt.Format(total)
		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("session_id", closed.ID).
		Str("user_id", closed.UserID).
		Str("room_id", closed.RoomID).
		Str("time_spent", closed.TimeSpent).
		Str("total_time", closed.TotalTime).
		Msg("session closed")

	return &closed, nil
}

// Filter scopes a Find call. Empty string fields match everything.
type Filter struct {
	UserID     string
	RoomID     string
	Date       string
	ClosedOnly bool
	OpenOnly   bool
	Limit      int
}

// Find returns sessions matching the filter. Result order is join time
// descending; callers that only sum elapsed time do not depend on it.
func (l *Ledger) Find(ctx context.Context, filter Filter) ([]models.Session, error) {
	query := l.db.WithContext(ctx).Model(&models.Session{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.RoomID != "" {
		query = query.Where("room_id = ?", filter.RoomID)
	}
	if filter.Date != "" {
		query = query.Where("date = ?", filter.Date)
	}
	if filter.ClosedOnly {
		query = query.Where("leave_time IS NOT NULL")
	}
	if filter.OpenOnly {
		query = query.Where("leave_time IS NULL")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var sessions []models.Session
	if err := query.Order("join_time DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return sessions, nil
}

// OpenSession returns the open session for (userID, roomID) if one exists.
func (l *Ledger) OpenSession(ctx context.Context, userID, roomID string) (*models.Session, error) {
	var session models.Session
	result := l.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ? AND leave_time IS NULL", userID, roomID).
		Order("join_time DESC").
		First(&session)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNoOpenSession
	}
	if result.Error != nil {
		return nil, fmt.Errorf("query open session: %w", result.Error)
	}
	return &session, nil
}
