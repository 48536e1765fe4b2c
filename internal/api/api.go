/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: presence queries, room and
// credential management, reporting, and the live event stream.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/audit"
	"github.com/friendsincode/heimdall_presence/internal/auth"
	"github.com/friendsincode/heimdall_presence/internal/cache"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/identity"
	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/presence"
	"github.com/friendsincode/heimdall_presence/internal/query"
	"github.com/friendsincode/heimdall_presence/internal/report"
	"github.com/friendsincode/heimdall_presence/internal/rooms"
	"github.com/friendsincode/heimdall_presence/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	db         *gorm.DB
	jwtSecret  []byte
	tracker    *presence.Tracker
	registry   *rooms.Registry
	querySvc   *query.Service
	reportSvc  *report.Service
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	identity   *identity.Service
	bus        *events.Bus
	cache      *cache.Cache
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, tracker *presence.Tracker, registry *rooms.Registry, querySvc *query.Service, reportSvc *report.Service, auditSvc *audit.Service, webhookSvc *webhooks.Service, idsvc *identity.Service, bus *events.Bus, c *cache.Cache, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		jwtSecret:  jwtSecret,
		tracker:    tracker,
		registry:   registry,
		querySvc:   querySvc,
		reportSvc:  reportSvc,
		auditSvc:   auditSvc,
		webhookSvc: webhookSvc,
		identity:   idsvc,
		bus:        bus,
		cache:      c,
		logger:     logger,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			// Presence queries (any authenticated role)
			pr.Route("/time", func(r chi.Router) {
				r.Get("/{userID}", a.handleTimeGet)
				r.Get("/{userID}/sessions", a.handleSessionsList)
				r.Get("/{userID}/daily", a.handleDailyTotals)
			})

			// Transition ingest over HTTP, for deployments without NATS
			pr.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).
				Post("/transitions", a.handleTransitionIngest)

			pr.Route("/rooms", func(r chi.Router) {
				r.Get("/", a.handleRoomsList)
				r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Post("/", a.handleRoomsUpsert)
				r.Route("/{roomID}", func(r chi.Router) {
					r.Get("/", a.handleRoomsGet)
					r.Get("/occupancy", a.handleRoomOccupancy)
					r.Get("/leaderboard", a.handleRoomLeaderboard)
					r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Patch("/", a.handleRoomsSetTracked)
				})
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Post("/{keyID}/revoke", a.handleAPIKeysRevoke)
				r.With(a.requireRoles(models.RoleAdmin)).Delete("/{keyID}", a.handleAPIKeysDelete)
			})

			pr.Route("/webhooks", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin, models.RoleOperator))
				r.Get("/", a.handleWebhooksList)
				r.Post("/", a.handleWebhooksCreate)
				r.Route("/{webhookID}", func(r chi.Router) {
					r.Get("/", a.handleWebhooksGet)
					r.Put("/", a.handleWebhooksUpdate)
					r.Delete("/", a.handleWebhooksDelete)
					r.Post("/test", a.handleWebhooksTest)
				})
			})

			pr.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditList)

			pr.With(a.requireRoles(models.RoleAdmin)).Post("/cache/flush", a.handleCacheFlush)

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCacheFlush drops every cached duration and occupancy entry. Admin
// only; the cache repopulates on the next read.
func (a *API) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.FlushAll(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("cache flush failed")
		writeError(w, http.StatusInternalServerError, "cache_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email_and_password_required")
		return
	}

	claims, err := auth.Authenticate(a.db.WithContext(r.Context()), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, *claims, 24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": claims.UserID,
		"roles":   claims.Roles,
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	if len(a.jwtSecret) == 0 {
		return auth.Middleware(a.db)
	}
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID
	}
	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
