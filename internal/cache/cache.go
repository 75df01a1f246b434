/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read-through layer for data the
// playout loop reads every cycle.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultStationListTTL = 5 * time.Minute
	DefaultBlackoutTTL    = 1 * time.Minute
	DefaultAssetTTL       = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyStationList = "grimnir:cache:stations"
	KeyBlackouts   = "grimnir:cache:blackouts"
	KeyAsset       = "grimnir:cache:asset:" // + asset_id
	keyAssetScan   = "grimnir:cache:asset:*"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StationListTTL time.Duration
	BlackoutTTL    time.Duration
	AssetTTL       time.Duration

	// DisableOnError trips the breaker on the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		StationListTTL: DefaultStationListTTL,
		BlackoutTTL:    DefaultBlackoutTTL,
		AssetTTL:       DefaultAssetTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache
// behaves as a disabled cache.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.StationListTTL <= 0 {
		cfg.StationListTTL = DefaultStationListTTL
	}
	if cfg.BlackoutTTL <= 0 {
		cfg.BlackoutTTL = DefaultBlackoutTTL
	}
	if cfg.AssetTTL <= 0 {
		cfg.AssetTTL = DefaultAssetTTL
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
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

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
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

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern using SCAN.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.delete(ctx, keys...); err != nil {
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

// CachedStation represents a cached station record.
type CachedStation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// GetStationList retrieves the cached list of active stations.
func (c *Cache) GetStationList(ctx context.Context) ([]CachedStation, bool) {
	var stations []CachedStation
	found, err := c.get(ctx, KeyStationList, &stations)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(stations)).Msg("station list cache hit")
	return stations, true
}

// SetStationList caches the list of active stations.
func (c *Cache) SetStationList(ctx context.Context, stations []CachedStation) error {
	if !c.IsAvailable() {
		return nil
	}
	return c.set(ctx, KeyStationList, stations, c.config.StationListTTL)
}

// InvalidateStationList removes the station list from cache.
func (c *Cache) InvalidateStationList(ctx context.Context) error {
	return c.delete(ctx, KeyStationList)
}

// CachedBlackoutWindow is an unresolved blackout window.
type CachedBlackoutWindow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	StationIDs []string  `json:"station_ids"`
}

// GetBlackoutWindows retrieves the cached current-and-upcoming window set.
func (c *Cache) GetBlackoutWindows(ctx context.Context) ([]CachedBlackoutWindow, bool) {
	var windows []CachedBlackoutWindow
	found, err := c.get(ctx, KeyBlackouts, &windows)
	if err != nil || !found {
		return nil, false
	}
	return windows, true
}

// SetBlackoutWindows caches the current-and-upcoming window set.
func (c *Cache) SetBlackoutWindows(ctx context.Context, windows []CachedBlackoutWindow) error {
	if !c.IsAvailable() {
		return nil
	}
	return c.set(ctx, KeyBlackouts, windows, c.config.BlackoutTTL)
}

// InvalidateBlackoutWindows drops the cached window set.
func (c *Cache) InvalidateBlackoutWindows(ctx context.Context) error {
	return c.delete(ctx, KeyBlackouts)
}

// CachedAsset represents cached asset metadata.
type CachedAsset struct {
	ID         string        `json:"id"`
	StationID  string        `json:"station_id"`
	Title      string        `json:"title"`
	Artist     string        `json:"artist"`
	Duration   time.Duration `json:"duration"`
	Type       string        `json:"type"`
	Category   string        `json:"category"`
	ContentRef string        `json:"content_ref"`
}

// GetAsset retrieves cached asset metadata by ID.
func (c *Cache) GetAsset(ctx context.Context, assetID string) (*CachedAsset, bool) {
	var asset CachedAsset
	found, err := c.get(ctx, KeyAsset+assetID, &asset)
	if err != nil || !found {
		return nil, false
	}
	return &asset, true
}

// SetAsset caches asset metadata.
func (c *Cache) SetAsset(ctx context.Context, asset *CachedAsset) error {
	if !c.IsAvailable() {
		return nil
	}
	return c.set(ctx, KeyAsset+asset.ID, asset, c.config.AssetTTL)
}

// InvalidateAssets removes every cached asset.
func (c *Cache) InvalidateAssets(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating asset caches")
	return c.deletePattern(ctx, keyAssetScan)
}
