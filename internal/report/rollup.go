/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report materializes per-day presence totals from the session
// ledger and serves reporting queries off the rollup table.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/timefmt"
)

// Service refreshes and queries the daily_totals rollup table.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates a report service.
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// rollupRow is the GROUP BY projection used during a refresh.
type rollupRow struct {
	UserID       string
	RoomID       string
	Date         string
	TotalSeconds int64
	Sessions     int
}

// Refresh recomputes daily totals from closed sessions. Only rows whose
// sessions changed since the last run would strictly need recomputing,
// but the full aggregate is cheap at this table size and cannot drift.
func (s *Service) Refresh(ctx context.Context) error {
	var rows []rollupRow
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Select("user_id, room_id, date, SUM(leave_time - join_time) AS total_seconds, COUNT(*) AS sessions").
		Where("leave_time IS NOT NULL").
		Group("user_id, room_id, date").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("aggregate closed sessions: %w", err)
	}

	now := time.Now()
	for _, row := range rows {
		total := models.DailyTotal{
			ID:           uuid.NewString(),
			UserID:       row.UserID,
			RoomID:       row.RoomID,
			Date:         row.Date,
			TotalSeconds: row.TotalSeconds,
			Sessions:     row.Sessions,
			UpdatedAt:    now,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "room_id"}, {Name: "date"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"total_seconds", "sessions", "updated_at",
				}),
			}).
			Create(&total).Error
		if err != nil {
			return fmt.Errorf("upsert daily total for %s/%s/%s: %w", row.UserID, row.RoomID, row.Date, err)
		}
	}

	s.logger.Debug().Int("rows", len(rows)).Msg("daily totals refreshed")
	return nil
}

// Run refreshes on the given interval until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("rollup worker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("rollup worker stopped")
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error().Err(err).Msg("rollup refresh failed")
			}
		}
	}
}

// DayTotal is one reporting row.
type DayTotal struct {
	Date         string `json:"date"`
	RoomID       string `json:"room_id,omitempty"`
	TotalSeconds int64  `json:"total_seconds"`
	Formatted    string `json:"formatted"`
	Sessions     int    `json:"sessions"`
}

// UserByDay returns a user's closed-session time per day, newest first,
// summed across rooms unless roomID narrows it. Zero time bounds mean
// unbounded on that side; bounds compare against the YYYY-MM-DD date.
func (s *Service) UserByDay(ctx context.Context, userID, roomID, fromDate, toDate string) ([]DayTotal, error) {
	q := s.db.WithContext(ctx).
		Model(&models.DailyTotal{}).
		Select("date, SUM(total_seconds) AS total_seconds, SUM(sessions) AS sessions").
		Where("user_id = ?", userID).
		Group("date").
		Order("date DESC")
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	if fromDate != "" {
		q = q.Where("date >= ?", fromDate)
	}
	if toDate != "" {
		q = q.Where("date <= ?", toDate)
	}

	var rows []DayTotal
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query daily totals: %w", err)
	}
	for i := range rows {
		rows[i].Formatted = timefmt.Format(rows[i].TotalSeconds)
	}
	return rows, nil
}

// RoomLeaderboard returns the top users by closed-session time in a room,
// optionally bounded by date.
func (s *Service) RoomLeaderboard(ctx context.Context, roomID, fromDate, toDate string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	q := s.db.WithContext(ctx).
		Model(&models.DailyTotal{}).
		Select("user_id, SUM(total_seconds) AS total_seconds, SUM(sessions) AS sessions").
		Where("room_id = ?", roomID).
		Group("user_id").
		Order("total_seconds DESC").
		Limit(limit)
	if fromDate != "" {
		q = q.Where("date >= ?", fromDate)
	}
	if toDate != "" {
		q = q.Where("date <= ?", toDate)
	}

	var rows []LeaderboardEntry
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].Formatted = timefmt.Format(rows[i].TotalSeconds)
	}
	return rows, nil
}

// LeaderboardEntry is one ranked leaderboard row.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	TotalSeconds int64  `json:"total_seconds"`
	Formatted    string `json:"formatted"`
	Sessions     int    `json:"sessions"`
}
