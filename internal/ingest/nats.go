/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest consumes presence transition events from NATS and feeds
// them to the tracker.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_presence/internal/identity"
	"github.com/friendsincode/heimdall_presence/internal/presence"
	"github.com/friendsincode/heimdall_presence/internal/telemetry"
)

// Config contains NATS consumer configuration.
type Config struct {
	URL     string
	Subject string
	Queue   string

	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default consumer configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "presence.transitions",
		Queue:         "heimdall",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
	}
}

// transitionMessage is the wire format of one presence transition. Empty
// room IDs mean "not in any room" on that side.
type transitionMessage struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	FromRoomID  string `json:"from_room_id,omitempty"`
	ToRoomID    string `json:"to_room_id,omitempty"`
	ObservedAt  int64  `json:"observed_at"` // Unix seconds; 0 means "now"
}

// Consumer subscribes to the transition subject and applies each event.
// Queue-group subscription spreads load across instances while keeping
// at-least-once delivery semantics from the broker.
type Consumer struct {
	cfg      Config
	tracker  *presence.Tracker
	identity *identity.Service
	logger   zerolog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewConsumer creates a presence event consumer.
func NewConsumer(cfg Config, tracker *presence.Tracker, idsvc *identity.Service, logger zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		tracker:  tracker,
		identity: idsvc,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Start connects to NATS and subscribes. It returns once the subscription
// is established; message handling runs on NATS's delivery goroutines.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := nats.Connect(c.cfg.URL,
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	c.conn = conn

	sub, err := conn.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub

	c.logger.Info().
		Str("url", c.cfg.URL).
		Str("subject", c.cfg.Subject).
		Str("queue", c.cfg.Queue).
		Msg("presence ingest started")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var wire transitionMessage
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		telemetry.IngestEventsTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn().Err(err).Msg("dropping malformed transition message")
		return
	}
	if wire.UserID == "" {
		telemetry.IngestEventsTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn().Msg("dropping transition without user id")
		return
	}

	observedAt := time.Now()
	if wire.ObservedAt > 0 {
		observedAt = time.Unix(wire.ObservedAt, 0)
	}

	if err := c.identity.Observe(ctx, wire.UserID, wire.DisplayName, observedAt); err != nil {
		c.logger.Error().Err(err).Str("user_id", wire.UserID).Msg("identity update failed")
	}

	err := c.tracker.Apply(ctx, presence.Transition{
		UserID:      wire.UserID,
		DisplayName: wire.DisplayName,
		FromRoomID:  wire.FromRoomID,
		ToRoomID:    wire.ToRoomID,
		ObservedAt:  observedAt,
	})
	if err != nil {
		telemetry.IngestEventsTotal.WithLabelValues("error").Inc()
		c.logger.Error().
			Err(err).
			Str("user_id", wire.UserID).
			Str("from", wire.FromRoomID).
			Str("to", wire.ToRoomID).
			Msg("transition apply failed")
		return
	}
	telemetry.IngestEventsTotal.WithLabelValues("ok").Inc()
}

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() error {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("subscription drain failed")
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.logger.Info().Msg("presence ingest stopped")
	return nil
}
