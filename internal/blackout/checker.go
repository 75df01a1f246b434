/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package blackout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

const (
	// DefaultCheckRefresh bounds how stale the active-window set may be.
	DefaultCheckRefresh = time.Minute
	// checkLookahead is how far past now the cached set reaches.
	checkLookahead = 24 * time.Hour
)

// Checker answers "is this station blacked out now" from a small cached set
// of unresolved windows, reloaded at most once per refresh period.
type Checker struct {
	db      *gorm.DB
	cache   *cache.Cache
	refresh time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	windows  []models.BlackoutWindow
	loadedAt time.Time
}

// NewChecker creates a checker. The Redis cache is optional.
func NewChecker(db *gorm.DB, c *cache.Cache, refresh time.Duration, logger zerolog.Logger) *Checker {
	if refresh <= 0 {
		refresh = DefaultCheckRefresh
	}
	return &Checker{
		db:      db,
		cache:   c,
		refresh: refresh,
		logger:  logger.With().Str("component", "blackout_checker").Logger(),
	}
}

// Active returns the unresolved blackout window containing now for the
// station, or nil.
func (c *Checker) Active(ctx context.Context, stationID string, now time.Time) (*models.BlackoutWindow, error) {
	windows, err := c.current(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		w := windows[i]
		if w.IsBlackout && !w.Resolved && w.AppliesTo(stationID) && w.Contains(now) {
			return &w, nil
		}
	}
	return nil, nil
}

// Invalidate drops the local and Redis copies of the window set.
func (c *Checker) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.windows = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()

	if err := c.cache.InvalidateBlackoutWindows(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("failed to invalidate cached blackout windows")
	}
}

func (c *Checker) current(ctx context.Context, now time.Time) ([]models.BlackoutWindow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loadedAt.IsZero() && !now.Before(c.loadedAt) && now.Sub(c.loadedAt) < c.refresh {
		return c.windows, nil
	}

	if cached, ok := c.cache.GetBlackoutWindows(ctx); ok {
		c.windows = fromCached(cached)
		c.loadedAt = now
		return c.windows, nil
	}

	var windows []models.BlackoutWindow
	err := c.db.WithContext(ctx).
		Where("is_blackout = ? AND resolved = ? AND ends_at > ? AND starts_at <= ?",
			true, false, now.UTC(), now.UTC().Add(checkLookahead)).
		Order("starts_at ASC").
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("load blackout windows: %w", err)
	}

	if err := c.cache.SetBlackoutWindows(ctx, toCached(windows)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to cache blackout windows")
	}

	c.windows = windows
	c.loadedAt = now
	return windows, nil
}

func toCached(windows []models.BlackoutWindow) []cache.CachedBlackoutWindow {
	out := make([]cache.CachedBlackoutWindow, len(windows))
	for i, w := range windows {
		out[i] = cache.CachedBlackoutWindow{
			ID:         w.ID,
			Name:       w.Name,
			StartsAt:   w.StartsAt,
			EndsAt:     w.EndsAt,
			StationIDs: w.StationIDs,
		}
	}
	return out
}

func fromCached(cached []cache.CachedBlackoutWindow) []models.BlackoutWindow {
	out := make([]models.BlackoutWindow, len(cached))
	for i, w := range cached {
		out[i] = models.BlackoutWindow{
			ID:         w.ID,
			Name:       w.Name,
			StartsAt:   w.StartsAt,
			EndsAt:     w.EndsAt,
			StationIDs: w.StationIDs,
			IsBlackout: true,
		}
	}
	return out
}
