/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleTimeGet returns the accumulated time for a user, optionally
// narrowed to one room. Users with no recorded sessions get a zero total
// rather than a 404; "never seen" and "zero time" read the same.
func (a *API) handleTimeGet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id_required")
		return
	}
	roomID := r.URL.Query().Get("room_id")

	result, err := a.querySvc.Duration(r.Context(), userID, roomID)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("duration query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	result.DisplayName = a.identity.DisplayName(r.Context(), userID)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id_required")
		return
	}
	roomID := r.URL.Query().Get("room_id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	sessions, err := a.querySvc.Sessions(r.Context(), userID, roomID, limit)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("session listing failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (a *API) handleDailyTotals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id_required")
		return
	}

	q := r.URL.Query()
	rows, err := a.reportSvc.UserByDay(r.Context(), userID, q.Get("room_id"), q.Get("from"), q.Get("to"))
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("daily totals query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"days":    rows,
	})
}
