/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rooms manages the set of rooms the tracker accounts time for.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/config"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

// ErrRoomNotFound indicates the room does not exist in the registry.
var ErrRoomNotFound = errors.New("room not found")

// Registry is the source of truth for tracked rooms. Lookups run against an
// in-memory snapshot refreshed on every mutation so the tracker's hot path
// never touches the database.
type Registry struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]models.Room
}

// NewRegistry creates a room registry and loads the current room set.
func NewRegistry(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "rooms").Logger(),
		cache:  make(map[string]models.Room),
	}
	if err := r.reload(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload(ctx context.Context) error {
	var all []models.Room
	if err := r.db.WithContext(ctx).Find(&all).Error; err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	cache := make(map[string]models.Room, len(all))
	for _, room := range all {
		cache[room.ID] = room
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	return nil
}

// Tracked reports whether the room is registered and tracked.
func (r *Registry) Tracked(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.cache[roomID]
	return ok && room.Tracked
}

// RoomName returns the registered display name, or the ID when unknown.
func (r *Registry) RoomName(roomID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.cache[roomID]; ok && room.Name != "" {
		return room.Name
	}
	return roomID
}

// List returns all registered rooms.
func (r *Registry) List(ctx context.Context) ([]models.Room, error) {
	var all []models.Room
	if err := r.db.WithContext(ctx).Order("id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return all, nil
}

// Get returns one room.
func (r *Registry) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// Upsert creates or updates a room and refreshes the snapshot.
func (r *Registry) Upsert(ctx context.Context, room models.Room) (*models.Room, error) {
	if room.ID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	existing, err := r.Get(ctx, room.ID)
	created := errors.Is(err, ErrRoomNotFound)
	if err != nil && !created {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Save(&room).Error; err != nil {
		return nil, fmt.Errorf("save room: %w", err)
	}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}

	eventType := events.EventRoomTracked
	if !room.Tracked {
		eventType = events.EventRoomUntracked
	}
	// Only announce tracking flips and new rooms, not cosmetic renames.
	if created || existing.Tracked != room.Tracked {
		r.bus.Publish(eventType, events.Payload{
			"room_id":   room.ID,
			"room_name": room.Name,
			"tracked":   room.Tracked,
		})
	}

	r.logger.Info().
		Str("room_id", room.ID).
		Bool("tracked", room.Tracked).
		Bool("created", created).
		Msg("room saved")
	return &room, nil
}

// SetTracked flips the tracked flag for a room.
func (r *Registry) SetTracked(ctx context.Context, roomID string, tracked bool) (*models.Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.Tracked = tracked
	return r.Upsert(ctx, *room)
}

// Seed imports manifest entries that do not yet exist. Existing rooms are
// left alone so API edits survive restarts.
func (r *Registry) Seed(ctx context.Context, manifest *config.RoomManifest) error {
	if manifest == nil {
		return nil
	}

	for _, entry := range manifest.Rooms {
		_, err := r.Get(ctx, entry.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return err
		}

		room := models.Room{
			ID:      entry.ID,
			Name:    entry.Name,
			Tracked: entry.IsTracked(),
		}
		if err := r.db.WithContext(ctx).Create(&room).Error; err != nil {
			return fmt.Errorf("seed room %s: %w", entry.ID, err)
		}
		r.logger.Info().Str("room_id", entry.ID).Msg("seeded room from manifest")
	}
	return r.reload(ctx)
}
