/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_presence/internal/cache"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/rooms"
)

func (a *API) handleRoomsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.registry.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list rooms failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": list})
}

func (a *API) handleRoomsGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	room, err := a.registry.Get(r.Context(), roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("get room failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) handleRoomsUpsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Tracked *bool  `json:"tracked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "room_id_required")
		return
	}

	tracked := true
	if req.Tracked != nil {
		tracked = *req.Tracked
	}
	name := req.Name
	if name == "" {
		name = req.ID
	}

	room, err := a.registry.Upsert(r.Context(), models.Room{
		ID:      req.ID,
		Name:    name,
		Tracked: tracked,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", req.ID).Msg("upsert room failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditRoomCreate, events.Payload{
		"room_id":       room.ID,
		"resource_type": "room",
		"resource_id":   room.ID,
		"name":          room.Name,
		"tracked":       room.Tracked,
	})

	writeJSON(w, http.StatusCreated, room)
}

func (a *API) handleRoomsSetTracked(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	var req struct {
		Tracked *bool `json:"tracked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tracked == nil {
		writeError(w, http.StatusBadRequest, "tracked_required")
		return
	}

	room, err := a.registry.SetTracked(r.Context(), roomID, *req.Tracked)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("set tracked failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditRoomUpdate, events.Payload{
		"room_id":       room.ID,
		"resource_type": "room",
		"resource_id":   room.ID,
		"tracked":       room.Tracked,
	})

	writeJSON(w, http.StatusOK, room)
}

// handleRoomOccupancy returns the sessions currently open in a room. The
// snapshot is served from cache when present; session opens and closes
// invalidate it.
func (a *API) handleRoomOccupancy(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if cached, ok := a.cache.GetOccupancy(r.Context(), roomID); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"room_id":   roomID,
			"room_name": a.registry.RoomName(roomID),
			"occupants": cached.Occupants,
			"count":     len(cached.Occupants),
		})
		return
	}

	sessions, err := a.tracker.OpenSessions(r.Context(), roomID)
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("occupancy query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	occupants := make([]cache.CachedOccupant, 0, len(sessions))
	for _, s := range sessions {
		occupants = append(occupants, cache.CachedOccupant{
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			JoinTime:    s.JoinTime,
		})
	}

	if err := a.cache.SetOccupancy(r.Context(), &cache.CachedOccupancy{RoomID: roomID, Occupants: occupants}); err != nil {
		a.logger.Debug().Err(err).Str("room_id", roomID).Msg("occupancy cache store failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   roomID,
		"room_name": a.registry.RoomName(roomID),
		"occupants": occupants,
		"count":     len(occupants),
	})
}

func (a *API) handleRoomLeaderboard(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	entries, err := a.reportSvc.RoomLeaderboard(r.Context(), roomID, q.Get("from"), q.Get("to"), limit)
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("leaderboard query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"entries": entries,
	})
}
