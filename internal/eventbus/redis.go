/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans presence events out across instances over Redis
// pub/sub. Each instance relays its local bus onto Redis and injects remote
// events back in, so websocket clients see session activity no matter which
// node their connection landed on.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_presence/internal/events"
)

// channelPrefix namespaces Redis pub/sub channels so a shared Redis can
// serve other applications.
const channelPrefix = "heimdall:events:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker: after MaxFailures consecutive errors the bus goes
	// local-only and probes Redis again every CheckInterval.
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisBus is a cross-instance event bus. Local delivery always works; when
// Redis is unreachable the bus degrades to local-only and keeps probing.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	mu       sync.RWMutex
	subs     map[events.EventType][]events.Subscriber
	channels map[events.EventType]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	localOnly     bool
	failCount     int
	maxFails      int
	checkInterval time.Duration
	lastProbe     time.Time
}

// NewRedisBus connects to Redis and returns the bus. An unreachable Redis
// is not an error; the bus starts in local-only mode and recovers when the
// server comes back.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rb := &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		local:         events.NewBus(),
		logger:        logger.With().Str("component", "eventbus").Logger(),
		nodeID:        nodeID,
		maxFails:      cfg.MaxFailures,
		checkInterval: cfg.CheckInterval,
		subs:          make(map[events.EventType][]events.Subscriber),
		channels:      make(map[events.EventType]*redis.PubSub),
		ctx:           ctx,
		cancel:        cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("redis unreachable, event fan-out is local-only")
		rb.localOnly = true
		rb.lastProbe = time.Now()
		return rb, nil
	}

	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus connected")
	return rb, nil
}

func channelFor(eventType events.EventType) string {
	return channelPrefix + string(eventType)
}

// Subscribe registers a subscriber for an event type. The first subscriber
// for a type opens the corresponding Redis channel.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	sub := make(events.Subscriber, 100)
	rb.subs[eventType] = append(rb.subs[eventType], sub)

	if !rb.localOnly {
		rb.ensureChannelLocked(eventType)
	}
	return sub
}

// ensureChannelLocked opens the Redis subscription for eventType if none
// exists. Caller holds rb.mu.
func (rb *RedisBus) ensureChannelLocked(eventType events.EventType) {
	if _, exists := rb.channels[eventType]; exists {
		return
	}
	pubsub := rb.client.Subscribe(rb.ctx, channelFor(eventType))
	rb.channels[eventType] = pubsub

	rb.wg.Add(1)
	go rb.receive(eventType, pubsub)
}

// receive pumps one Redis channel into the local subscribers for its type.
func (rb *RedisBus) receive(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()
	ch := pubsub.Channel()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event_type", string(eventType)).Msg("redis channel closed")
				rb.recordFailure()
				return
			}
			envelope, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("bad event envelope")
				continue
			}
			// This node's own publishes come back on the channel; drop them.
			if envelope.NodeID == rb.nodeID {
				continue
			}
			rb.deliver(eventType, envelope.Payload)
		}
	}
}

func (rb *RedisBus) deliver(eventType events.EventType, payload events.Payload) {
	rb.mu.RLock()
	subs := append([]events.Subscriber(nil), rb.subs[eventType]...)
	rb.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
			rb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber full, event dropped")
		}
	}
}

// Publish delivers to this node's subscribers and broadcasts to the other
// instances. Remote failures never block or fail the local side.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.deliver(eventType, payload)

	rb.mu.RLock()
	skip := rb.localOnly
	rb.mu.RUnlock()
	if skip {
		rb.maybeReconnect()
		return
	}

	data, err := encodeEnvelope(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("encode event envelope")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, channelFor(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("redis publish failed")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Unsubscribe removes the subscriber and closes its channel. The last
// subscriber of a type tears down the Redis subscription.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	subs := rb.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			rb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(rb.subs[eventType]) == 0 {
		if pubsub, exists := rb.channels[eventType]; exists {
			_ = pubsub.Close()
			delete(rb.channels, eventType)
		}
	}
}

// Close stops receivers and releases the Redis connection.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.wg.Wait()

	rb.mu.Lock()
	for _, pubsub := range rb.channels {
		_ = pubsub.Close()
	}
	rb.channels = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	if err := rb.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	rb.logger.Info().Msg("redis event bus closed")
	return nil
}

// recordFailure counts consecutive errors and trips the breaker at the
// configured threshold.
func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.localOnly {
		rb.logger.Warn().
			Int("failures", rb.failCount).
			Msg("redis failure threshold reached, going local-only")
		rb.localOnly = true
		rb.lastProbe = time.Now()
	}
}

// maybeReconnect probes Redis at most once per CheckInterval while the
// breaker is open, and restores fan-out when the ping succeeds.
func (rb *RedisBus) maybeReconnect() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.localOnly || time.Since(rb.lastProbe) < rb.checkInterval {
		return
	}
	rb.lastProbe = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return
	}

	rb.localOnly = false
	rb.failCount = 0
	for eventType := range rb.subs {
		if len(rb.subs[eventType]) > 0 {
			rb.ensureChannelLocked(eventType)
		}
	}
	rb.logger.Info().Msg("redis reachable again, fan-out restored")
}

// eventEnvelope is the wire format on Redis channels. NodeID lets the
// origin instance discard its own broadcasts.
type eventEnvelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func encodeEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(eventEnvelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

func decodeEnvelope(data []byte) (*eventEnvelope, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &envelope, nil
}
