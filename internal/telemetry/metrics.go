/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds prometheus metrics, the HTTP metrics middleware,
// and OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_api_requests_total",
		Help: "Total number of HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency in seconds.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_api_active_connections",
		Help: "Number of in-flight HTTP API requests.",
	})

	// APIWebSocketConnections tracks connected event-stream clients.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_api_websocket_connections",
		Help: "Number of connected websocket event-stream clients.",
	})

	// DatabaseQueryDuration observes query latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_database_query_duration_seconds",
		Help:    "Database query duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts database errors by operation and kind.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_database_errors_total",
		Help: "Total number of database errors.",
	}, []string{"operation", "error_type"})

	// DatabaseConnectionsActive tracks open database connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_database_connections_active",
		Help: "Number of open database connections.",
	})

	// PresenceSessionsOpened counts sessions opened by the tracker.
	PresenceSessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_presence_sessions_opened_total",
		Help: "Total number of presence sessions opened.",
	})

	// PresenceSessionsClosed counts sessions closed by the tracker.
	PresenceSessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_presence_sessions_closed_total",
		Help: "Total number of presence sessions closed.",
	})

	// PresenceTransitionsDropped counts transitions dropped by reason.
	PresenceTransitionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_presence_transitions_dropped_total",
		Help: "Total number of presence transitions dropped, by reason.",
	}, []string{"reason"})

	// PresenceIntegrityViolations counts rejected closes with negative elapsed time.
	PresenceIntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_presence_integrity_violations_total",
		Help: "Total number of rejected session closes with negative elapsed time.",
	})

	// IngestEventsTotal counts consumed presence events by outcome.
	IngestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_ingest_events_total",
		Help: "Total number of ingested presence events, by outcome.",
	}, []string{"outcome"})

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_webhook_deliveries_total",
		Help: "Total number of webhook delivery attempts, by outcome.",
	}, []string{"outcome"})
)

// Handler exposes the prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
