/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_presence/internal/auth"
	"github.com/friendsincode/heimdall_presence/internal/events"
)

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db.WithContext(r.Context()), claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("list api keys failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *API) handleAPIKeysCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Name      string `json:"name"`
		ExpiresIn string `json:"expires_in,omitempty"` // e.g. "720h"; empty = 1 year
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	expiresIn := 365 * 24 * time.Hour
	if req.ExpiresIn != "" {
		parsed, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_expires_in")
			return
		}
		expiresIn = parsed
	}

	plaintext, key, err := auth.GenerateAPIKey(claims.UserID, req.Name, expiresIn)
	if err != nil {
		a.logger.Error().Err(err).Msg("api key generation failed")
		writeError(w, http.StatusInternalServerError, "key_generation_failed")
		return
	}
	if err := a.db.WithContext(r.Context()).Create(key).Error; err != nil {
		a.logger.Error().Err(err).Msg("api key persist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"resource_type": "apikey",
		"resource_id":   key.ID,
		"name":          key.Name,
	})

	// The plaintext key is returned exactly once.
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         key.ID,
		"name":       key.Name,
		"key":        plaintext,
		"key_prefix": key.KeyPrefix,
		"expires_at": key.ExpiresAt,
	})
}

func (a *API) handleAPIKeysRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	keyID := chi.URLParam(r, "keyID")

	if err := auth.RevokeAPIKey(a.db.WithContext(r.Context()), keyID, claims.UserID); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"resource_type": "apikey",
		"resource_id":   keyID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleAPIKeysDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	keyID := chi.URLParam(r, "keyID")

	if err := auth.DeleteAPIKey(a.db.WithContext(r.Context()), keyID, claims.UserID); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
