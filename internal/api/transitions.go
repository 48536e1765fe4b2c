/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/presence"
)

type transitionRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	FromRoomID  string `json:"from_room_id,omitempty"`
	ToRoomID    string `json:"to_room_id,omitempty"`
	ObservedAt  int64  `json:"observed_at,omitempty"`
}

// handleTransitionIngest accepts a presence transition over HTTP. Same
// contract as the NATS subject; meant for gateways that cannot publish
// to the broker directly.
func (a *API) handleTransitionIngest(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id_required")
		return
	}

	observedAt := time.Now()
	if req.ObservedAt > 0 {
		observedAt = time.Unix(req.ObservedAt, 0)
	}

	if err := a.identity.Observe(r.Context(), req.UserID, req.DisplayName, observedAt); err != nil {
		a.logger.Error().Err(err).Str("user_id", req.UserID).Msg("identity update failed")
	}

	err := a.tracker.Apply(r.Context(), presence.Transition{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		FromRoomID:  req.FromRoomID,
		ToRoomID:    req.ToRoomID,
		ObservedAt:  observedAt,
	})
	switch {
	case errors.Is(err, ledger.ErrIntegrityViolation):
		writeError(w, http.StatusUnprocessableEntity, "leave_before_join")
		return
	case err != nil:
		a.logger.Error().Err(err).Str("user_id", req.UserID).Msg("transition apply failed")
		writeError(w, http.StatusInternalServerError, "apply_failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}
