/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Tracked room manifest (optional YAML file seeded into the registry)
	RoomsManifestPath string

	// Presence ingest (NATS)
	NATSEnabled bool
	NATSURL     string
	NATSSubject string
	NATSQueue   string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (query cache and multi-instance event fan-out)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string

	// Webhook delivery
	WebhookTimeout time.Duration

	// Daily rollup worker
	RollupEnabled  bool
	RollupInterval time.Duration

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"HEIMDALL_ENV", "HP_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"HEIMDALL_HTTP_BIND", "HP_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"HEIMDALL_HTTP_PORT", "HP_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"HEIMDALL_DB_BACKEND", "HP_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"HEIMDALL_DB_DSN", "HP_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"HEIMDALL_JWT_SIGNING_KEY", "HP_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"HEIMDALL_METRICS_BIND", "HP_METRICS_BIND"}, "127.0.0.1:9000"),

		RoomsManifestPath: getEnvAny([]string{"HEIMDALL_ROOMS_MANIFEST", "HP_ROOMS_MANIFEST"}, ""),

		// Presence ingest
		NATSEnabled: getEnvBoolAny([]string{"HEIMDALL_NATS_ENABLED", "HP_NATS_ENABLED"}, false),
		NATSURL:     getEnvAny([]string{"HEIMDALL_NATS_URL", "HP_NATS_URL"}, "nats://localhost:4222"),
		NATSSubject: getEnvAny([]string{"HEIMDALL_NATS_SUBJECT", "HP_NATS_SUBJECT"}, "presence.transitions"),
		NATSQueue:   getEnvAny([]string{"HEIMDALL_NATS_QUEUE", "HP_NATS_QUEUE"}, "heimdall"),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"HEIMDALL_TRACING_ENABLED", "HP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HEIMDALL_OTLP_ENDPOINT", "HP_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HEIMDALL_TRACING_SAMPLE_RATE", "HP_TRACING_SAMPLE_RATE"}, 1.0),

		// Redis
		RedisEnabled:  getEnvBoolAny([]string{"HEIMDALL_REDIS_ENABLED", "HP_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"HEIMDALL_REDIS_ADDR", "HP_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"HEIMDALL_REDIS_PASSWORD", "HP_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"HEIMDALL_REDIS_DB", "HP_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"HEIMDALL_INSTANCE_ID", "HP_INSTANCE_ID"}, ""),

		WebhookTimeout: time.Duration(getEnvIntAny([]string{"HEIMDALL_WEBHOOK_TIMEOUT_SECONDS", "HP_WEBHOOK_TIMEOUT_SECONDS"}, 10)) * time.Second,

		RollupEnabled:  getEnvBoolAny([]string{"HEIMDALL_ROLLUP_ENABLED", "HP_ROLLUP_ENABLED"}, true),
		RollupInterval: time.Duration(getEnvIntAny([]string{"HEIMDALL_ROLLUP_INTERVAL_MINUTES", "HP_ROLLUP_INTERVAL_MINUTES"}, 60)) * time.Minute,
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HEIMDALL_DB_DSN or HP_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("HEIMDALL_JWT_SIGNING_KEY or HP_JWT_SIGNING_KEY must be provided")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("HEIMDALL_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if strings.EqualFold(cfg.JWTSigningKey, "changeme") {
			return nil, fmt.Errorf("HEIMDALL_JWT_SIGNING_KEY must be set to a non-default value in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use HEIMDALL_ENV (or HP_ENV)",
		"JWT_SIGNING_KEY":     "use HEIMDALL_JWT_SIGNING_KEY (or HP_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use HEIMDALL_TRACING_ENABLED (or HP_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use HEIMDALL_OTLP_ENDPOINT (or HP_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use HEIMDALL_TRACING_SAMPLE_RATE (or HP_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
