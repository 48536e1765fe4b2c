/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package identity resolves presence subjects to display names.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/heimdall_presence/internal/models"
)

// ErrUnknownIdentity indicates the subject has never been observed.
var ErrUnknownIdentity = errors.New("unknown identity")

// Service maintains the identity table from observed transitions.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates an identity service.
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Observe records a sighting of the subject. The display name is updated
// when the event carries one; an empty name never clobbers a known one.
func (s *Service) Observe(ctx context.Context, userID, displayName string, seenAt time.Time) error {
	if userID == "" {
		return nil
	}

	identity := models.Identity{
		ID:          userID,
		DisplayName: displayName,
		FirstSeen:   seenAt,
		LastSeen:    seenAt,
	}

	assignments := map[string]any{"last_seen": seenAt}
	if displayName != "" {
		assignments["display_name"] = displayName
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&identity).Error
	if err != nil {
		return fmt.Errorf("observe identity: %w", err)
	}
	return nil
}

// Resolve returns the identity record for a subject.
func (s *Service) Resolve(ctx context.Context, userID string) (*models.Identity, error) {
	var identity models.Identity
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &identity, nil
}

// DisplayName returns the known display name, or the ID when the subject is
// unknown or has no recorded name.
func (s *Service) DisplayName(ctx context.Context, userID string) string {
	identity, err := s.Resolve(ctx, userID)
	if err != nil || identity.DisplayName == "" {
		return userID
	}
	return identity.DisplayName
}
