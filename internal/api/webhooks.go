/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

type webhookRequest struct {
	URL     string `json:"url"`
	Secret  string `json:"secret"`
	Events  string `json:"events,omitempty"` // comma-separated, empty = all
	Enabled *bool  `json:"enabled,omitempty"`
}

func validateWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	var hooks []models.Webhook
	if err := a.db.WithContext(r.Context()).Order("created_at ASC").Find(&hooks).Error; err != nil {
		a.logger.Error().Err(err).Msg("list webhooks failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	// Secrets never leave the server.
	for i := range hooks {
		hooks[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (a *API) handleWebhooksGet(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	var hook models.Webhook
	result := a.db.WithContext(r.Context()).First(&hook, "id = ?", webhookID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	hook.Secret = ""
	writeJSON(w, http.StatusOK, hook)
}

func (a *API) handleWebhooksCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !validateWebhookURL(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}
	if req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret_required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	hook := models.Webhook{
		ID:      uuid.NewString(),
		URL:     req.URL,
		Secret:  req.Secret,
		Events:  req.Events,
		Enabled: enabled,
	}
	if err := a.db.WithContext(r.Context()).Create(&hook).Error; err != nil {
		a.logger.Error().Err(err).Msg("create webhook failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditWebhookCreate, events.Payload{
		"resource_type": "webhook",
		"resource_id":   hook.ID,
		"url":           hook.URL,
	})

	hook.Secret = ""
	writeJSON(w, http.StatusCreated, hook)
}

func (a *API) handleWebhooksUpdate(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var hook models.Webhook
	result := a.db.WithContext(r.Context()).First(&hook, "id = ?", webhookID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	updates := map[string]any{}
	if req.URL != "" {
		if !validateWebhookURL(req.URL) {
			writeError(w, http.StatusBadRequest, "invalid_url")
			return
		}
		updates["url"] = req.URL
	}
	if req.Secret != "" {
		updates["secret"] = req.Secret
	}
	if req.Events != "" {
		updates["events"] = req.Events
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) > 0 {
		if err := a.db.WithContext(r.Context()).Model(&hook).Updates(updates).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}

	hook.Secret = ""
	writeJSON(w, http.StatusOK, hook)
}

func (a *API) handleWebhooksDelete(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	result := a.db.WithContext(r.Context()).Delete(&models.Webhook{}, "id = ?", webhookID)
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	a.publishAuditEvent(r, events.EventAuditWebhookDelete, events.Payload{
		"resource_type": "webhook",
		"resource_id":   webhookID,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhooksTest(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	var hook models.Webhook
	result := a.db.WithContext(r.Context()).First(&hook, "id = ?", webhookID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.webhookSvc.TestWebhook(&hook); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
