/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultDurationTTL  = 5 * time.Minute
	DefaultOccupancyTTL = 30 * time.Second
)

// Key prefixes for Redis cache
const (
	KeyDuration  = "heimdall:cache:duration:"  // + user_id:room_id ("-" for all rooms)
	KeyOccupancy = "heimdall:cache:occupancy:" // + room_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	DurationTTL  time.Duration
	OccupancyTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DurationTTL:    DefaultDurationTTL,
		OccupancyTTL:   DefaultOccupancyTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache instance that never touches Redis.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

func durationKey(userID, roomID string) string {
	if roomID == "" {
		roomID = "-"
	}
	return KeyDuration + userID + ":" + roomID
}

// Duration caching methods

// CachedDuration represents a cached duration query result.
type CachedDuration struct {
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	Seconds   int64  `json:"seconds"`
	Formatted string `json:"formatted"`
	Sessions  int    `json:"sessions"`
}

// GetDuration retrieves a cached duration total for a user and room.
func (c *Cache) GetDuration(ctx context.Context, userID, roomID string) (*CachedDuration, bool) {
	var cached CachedDuration
	found, err := c.get(ctx, durationKey(userID, roomID), &cached)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("user_id", userID).Str("room_id", roomID).Msg("duration cache hit")
	return &cached, true
}

// SetDuration caches a duration total.
func (c *Cache) SetDuration(ctx context.Context, cached *CachedDuration) error {
	c.logger.Debug().Str("user_id", cached.UserID).Str("room_id", cached.RoomID).Msg("caching duration")
	return c.set(ctx, durationKey(cached.UserID, cached.RoomID), cached, c.config.DurationTTL)
}

// InvalidateUser removes every cached duration for a user. Called when one of
// the user's sessions closes, since both the per-room and all-rooms totals
// change.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	c.logger.Debug().Str("user_id", userID).Msg("invalidating duration caches")
	return c.deletePattern(ctx, KeyDuration+userID+":*")
}

// Occupancy caching methods

// CachedOccupant is one open session inside an occupancy snapshot.
type CachedOccupant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	JoinTime    int64  `json:"join_time"`
}

// CachedOccupancy represents a cached room occupancy snapshot.
type CachedOccupancy struct {
	RoomID    string           `json:"room_id"`
	Occupants []CachedOccupant `json:"occupants"`
}

// GetOccupancy retrieves the cached occupant list for a room.
func (c *Cache) GetOccupancy(ctx context.Context, roomID string) (*CachedOccupancy, bool) {
	var cached CachedOccupancy
	found, err := c.get(ctx, KeyOccupancy+roomID, &cached)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("room_id", roomID).Msg("occupancy cache hit")
	return &cached, true
}

// SetOccupancy caches the occupant list for a room.
func (c *Cache) SetOccupancy(ctx context.Context, cached *CachedOccupancy) error {
	c.logger.Debug().Str("room_id", cached.RoomID).Int("count", len(cached.Occupants)).Msg("caching occupancy")
	return c.set(ctx, KeyOccupancy+cached.RoomID, cached, c.config.OccupancyTTL)
}

// InvalidateOccupancy removes the occupant list for a room.
func (c *Cache) InvalidateOccupancy(ctx context.Context, roomID string) error {
	c.logger.Debug().Str("room_id", roomID).Msg("invalidating occupancy cache")
	return c.delete(ctx, KeyOccupancy+roomID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "heimdall:cache:*")
}
