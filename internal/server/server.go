/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, the presence tracker, and
// the HTTP surface into one runnable unit.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/aggregate"
	"github.com/friendsincode/heimdall_presence/internal/api"
	"github.com/friendsincode/heimdall_presence/internal/audit"
	"github.com/friendsincode/heimdall_presence/internal/cache"
	"github.com/friendsincode/heimdall_presence/internal/config"
	"github.com/friendsincode/heimdall_presence/internal/db"
	"github.com/friendsincode/heimdall_presence/internal/eventbus"
	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/identity"
	"github.com/friendsincode/heimdall_presence/internal/ingest"
	"github.com/friendsincode/heimdall_presence/internal/ledger"
	"github.com/friendsincode/heimdall_presence/internal/presence"
	"github.com/friendsincode/heimdall_presence/internal/query"
	"github.com/friendsincode/heimdall_presence/internal/report"
	"github.com/friendsincode/heimdall_presence/internal/rooms"
	"github.com/friendsincode/heimdall_presence/internal/telemetry"
	"github.com/friendsincode/heimdall_presence/internal/version"
	"github.com/friendsincode/heimdall_presence/internal/webhooks"
)

// relayedEvents are the bus events mirrored through Redis so every
// instance's live-stream clients see them.
var relayedEvents = []events.EventType{
	events.EventSessionOpened,
	events.EventSessionClosed,
	events.EventIntegrityViolation,
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db         *gorm.DB
	cache      *cache.Cache
	bus        *events.Bus
	redisBus   *eventbus.RedisBus
	registry   *rooms.Registry
	ledger     *ledger.Ledger
	tracker    *presence.Tracker
	identity   *identity.Service
	querySvc   *query.Service
	reportSvc  *report.Service
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	consumer   *ingest.Consumer
	tracer     *telemetry.TracerProvider
	updates    *version.Checker
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("heimdall-presence-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for websocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the websocket event stream; the
		// middleware timeout covers regular routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		s.logger.Warn().Err(err).Msg("telemetry callbacks registration failed")
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if s.cfg.TracingEnabled {
		tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
			ServiceName:    "heimdall-presence",
			ServiceVersion: version.Version,
			OTLPEndpoint:   s.cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     s.cfg.TracingSampleRate,
		}, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("tracing initialization failed, continuing without tracing")
		} else {
			s.tracer = tracer
			s.DeferClose(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return s.tracer.Shutdown(ctx)
			})
		}
	}

	if s.cfg.RedisEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		queryCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
			s.cache = cache.Disabled(s.logger)
		} else {
			s.cache = queryCache
			s.DeferClose(func() error { return s.cache.Close() })
		}

		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis event bus initialization failed, running local-only")
		} else {
			s.redisBus = redisBus
			s.DeferClose(func() error { return s.redisBus.Close() })
		}
	} else {
		s.cache = cache.Disabled(s.logger)
	}

	registry, err := rooms.NewRegistry(database, s.bus, s.logger)
	if err != nil {
		return fmt.Errorf("initialize room registry: %w", err)
	}
	s.registry = registry

	if s.cfg.RoomsManifestPath != "" {
		manifest, err := config.LoadRoomManifest(s.cfg.RoomsManifestPath)
		if err != nil {
			return fmt.Errorf("load room manifest: %w", err)
		}
		if err := s.registry.Seed(context.Background(), manifest); err != nil {
			return fmt.Errorf("seed room registry: %w", err)
		}
		s.logger.Info().
			Str("path", s.cfg.RoomsManifestPath).
			Int("rooms", len(manifest.Rooms)).
			Msg("room manifest seeded")
	}

	s.ledger = ledger.New(database, s.logger)
	s.tracker = presence.NewTracker(s.ledger, s.registry, s.bus, s.logger)
	s.identity = identity.NewService(database, s.logger)
	s.querySvc = query.NewService(s.ledger, aggregate.New(database), s.cache, s.logger)
	s.reportSvc = report.NewService(database, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.cfg.WebhookTimeout, s.logger)

	if s.cfg.NATSEnabled {
		ingestCfg := ingest.DefaultConfig()
		ingestCfg.URL = s.cfg.NATSURL
		ingestCfg.Subject = s.cfg.NATSSubject
		ingestCfg.Queue = s.cfg.NATSQueue
		s.consumer = ingest.NewConsumer(ingestCfg, s.tracker, s.identity, s.logger)
		s.DeferClose(func() error { return s.consumer.Close() })
	}

	s.updates = version.NewChecker(s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.tracker, s.registry, s.querySvc, s.reportSvc, s.auditSvc, s.webhookSvc, s.identity, s.bus, s.cache, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the optional metrics listener, nil when unset.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.webhookSvc.Start(ctx)
	}()

	s.querySvc.StartInvalidation(ctx, s.bus)

	if s.cfg.RollupEnabled {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.reportSvc.Run(ctx, s.cfg.RollupInterval)
		}()
	}

	s.updates.Start(ctx)

	if s.consumer != nil {
		if err := s.consumer.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("presence ingest start failed; HTTP ingest remains available")
		}
	}

	if s.redisBus != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runEventRelay(ctx)
		}()
	}

	// Database pool metrics
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

// runEventRelay mirrors presence events between the local bus and Redis.
// Outbound: local events go to Redis for other instances. Inbound: events
// from other nodes land on the local bus (the Redis bus suppresses echoes
// of this node's own messages).
func (s *Server) runEventRelay(ctx context.Context) {
	localSubs := make([]events.Subscriber, len(relayedEvents))
	remoteSubs := make([]events.Subscriber, len(relayedEvents))
	for i, eventType := range relayedEvents {
		localSubs[i] = s.bus.Subscribe(eventType)
		remoteSubs[i] = s.redisBus.Subscribe(eventType)
	}
	defer func() {
		for i, eventType := range relayedEvents {
			s.bus.Unsubscribe(eventType, localSubs[i])
			s.redisBus.Unsubscribe(eventType, remoteSubs[i])
		}
	}()

	s.logger.Info().Msg("event relay started")

	for {
		moved := false
		for i, eventType := range relayedEvents {
			select {
			case payload := <-localSubs[i]:
				s.redisBus.Publish(eventType, payload)
				moved = true
			default:
			}
			select {
			case payload := <-remoteSubs[i]:
				s.bus.Publish(eventType, payload)
				moved = true
			default:
			}
		}
		if !moved {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("event relay stopped")
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		info := s.updates.Info()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":          info.CurrentVersion,
			"latest":           info.LatestVersion,
			"update_available": info.UpdateAvailable,
			"release_url":      info.ReleaseURL,
		})
	})

	// Metrics on the main listener too when no dedicated bind is set.
	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}

// Run starts the HTTP listeners and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info().
			Str("addr", s.httpServer.Addr).
			Str("version", version.Version).
			Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.metricsServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics server listening")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	return s.Close()
}
