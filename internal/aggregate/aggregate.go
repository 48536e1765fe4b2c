/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package aggregate sums session durations into totals.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/timefmt"
)

// Aggregator computes duration totals directly in the database.
type Aggregator struct {
	db *gorm.DB
}

// New creates an aggregator over the sessions table.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// TotalSeconds sums the elapsed seconds of closed sessions for a user. An
// empty roomID spans all rooms. No matching sessions is a valid zero total.
func (a *Aggregator) TotalSeconds(ctx context.Context, userID, roomID string) (int64, error) {
	query := a.db.WithContext(ctx).Model(&models.Session{}).
		Select("COALESCE(SUM(leave_time - join_time), 0)").
		Where("user_id = ? AND leave_time IS NOT NULL", userID)
	if roomID != "" {
		query = query.Where("room_id = ?", roomID)
	}

	var total int64
	if err := query.Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum sessions: %w", err)
	}
	return total, nil
}

// TotalSecondsWithOpen is TotalSeconds plus elapsed-so-far for any open
// session, measured against now.
func (a *Aggregator) TotalSecondsWithOpen(ctx context.Context, userID, roomID string, now time.Time) (int64, error) {
	total, err := a.TotalSeconds(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}

	query := a.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND leave_time IS NULL", userID)
	if roomID != "" {
		query = query.Where("room_id = ?", roomID)
	}

	var open []models.Session
	if err := query.Find(&open).Error; err != nil {
		return 0, fmt.Errorf("query open sessions: %w", err)
	}
	instant := now.Unix()
	for _, s := range open {
		if elapsed := instant - s.JoinTime; elapsed > 0 {
			total += elapsed
		}
	}
	return total, nil
}

// Total sums the elapsed seconds of closed sessions. Open sessions
// contribute nothing; zero sessions yield zero.
func Total(sessions []models.Session) int64 {
	var total int64
	for _, s := range sessions {
		if !s.Closed() {
			continue
		}
		total += s.ElapsedSeconds()
	}
	return total
}

// TotalAt sums closed sessions plus the in-progress portion of any open
// session, measured up to now. An open session whose join time is after now
// contributes nothing.
func TotalAt(sessions []models.Session, now time.Time) int64 {
	total := Total(sessions)
	instant := now.Unix()
	for _, s := range sessions {
		if s.Closed() {
			continue
		}
		if elapsed := instant - s.JoinTime; elapsed > 0 {
			total += elapsed
		}
	}
	return total
}

// ByRoom groups closed-session totals per room ID.
func ByRoom(sessions []models.Session) map[string]int64 {
	totals := make(map[string]int64)
	for _, s := range sessions {
		if !s.Closed() {
			continue
		}
		totals[s.RoomID] += s.ElapsedSeconds()
	}
	return totals
}

// ByDate groups closed-session totals per calendar date (YYYY-MM-DD).
func ByDate(sessions []models.Session) map[string]int64 {
	totals := make(map[string]int64)
	for _, s := range sessions {
		if !s.Closed() {
			continue
		}
		totals[s.Date] += s.ElapsedSeconds()
	}
	return totals
}

// FormatTotal renders a seconds total as HH:MM:SS. Zero renders as 00:00:00.
func FormatTotal(seconds int64) string {
	return timefmt.Format(seconds)
}
