/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Asset loads asset metadata, reading through the cache. Returns nil when
// the asset does not exist.
func (s *Selector) Asset(ctx context.Context, assetID string) (*models.Asset, error) {
	if cached, ok := s.cache.GetAsset(ctx, assetID); ok {
		return fromCached(cached), nil
	}

	var asset models.Asset
	err := s.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if err := s.cache.SetAsset(ctx, toCached(asset)); err != nil {
		s.logger.Debug().Err(err).Str("asset_id", assetID).Msg("asset cache write failed")
	}
	return &asset, nil
}

// IntroJingle picks a random jingle in the block's intro category.
func (s *Selector) IntroJingle(ctx context.Context, station models.Station, block models.Block) (*Selection, error) {
	category := block.IntroCategory
	if category == "" {
		category = models.CategoryIntro
	}
	id, err := s.randomAsset(s.assets(ctx, station.ID).
		Where("type = ? AND category = ?", models.AssetJingle, category))
	if err != nil || id == "" {
		return nil, err
	}
	return &Selection{AssetID: id, Reason: ReasonIntro}, nil
}

// Emergency picks a random emergency-category asset, or any playable jingle.
func (s *Selector) Emergency(ctx context.Context, station models.Station) (*Selection, error) {
	id, err := s.randomAsset(s.assets(ctx, station.ID).Where("category = ?", models.CategoryEmergency))
	if err != nil {
		return nil, err
	}
	if id == "" {
		id, err = s.randomAsset(s.assets(ctx, station.ID).
			Where("type = ? AND category <> ?", models.AssetJingle, models.CategoryDoNotPlay))
		if err != nil || id == "" {
			return nil, err
		}
	}
	return &Selection{AssetID: id, Reason: ReasonEmergency}, nil
}

// Silence returns the station's silence asset, preferring a station-owned
// one over the shared library.
func (s *Selector) Silence(ctx context.Context, station models.Station) (*models.Asset, error) {
	var assets []models.Asset
	err := s.assets(ctx, station.ID).
		Where("(type = ? OR category = ?)", models.AssetSilence, models.CategorySilence).
		Order("id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("load silence asset: %w", err)
	}
	if len(assets) == 0 {
		return nil, nil
	}
	for i := range assets {
		if assets[i].StationID == station.ID {
			return &assets[i], nil
		}
	}
	return &assets[0], nil
}

// assets scopes a query to the station's own assets and the shared library.
func (s *Selector) assets(ctx context.Context, stationID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("(station_id = ? OR station_id = '' OR station_id IS NULL)", stationID)
}

func (s *Selector) randomAsset(q *gorm.DB) (string, error) {
	var ids []string
	if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return "", fmt.Errorf("load assets: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[s.intn(len(ids))], nil
}

// recentDistinct returns up to limit of ids, most recently played first.
func (s *Selector) recentDistinct(ctx context.Context, req Request, ids []string, limit int) ([]string, error) {
	if limit <= 0 || len(ids) == 0 {
		return nil, nil
	}

	unlogged := slices.Clone(req.Unlogged)
	sort.SliceStable(unlogged, func(i, j int) bool {
		return unlogged[i].StartedAt.After(unlogged[j].StartedAt)
	})
	out := make([]string, 0, limit)
	for _, p := range unlogged {
		if len(out) == limit {
			return out, nil
		}
		if slices.Contains(ids, p.AssetID) && !slices.Contains(out, p.AssetID) {
			out = append(out, p.AssetID)
		}
	}

	var logged []string
	err := s.db.WithContext(ctx).Model(&models.PlayLogEntry{}).
		Where("station_id = ? AND asset_id IN ?", req.Station.ID, ids).
		Group("asset_id").
		Order("MAX(started_at) DESC").
		Limit(limit+len(out)).
		Pluck("asset_id", &logged).Error
	if err != nil {
		return nil, fmt.Errorf("load recent plays: %w", err)
	}
	for _, id := range logged {
		if len(out) == limit {
			break
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func toCached(a models.Asset) *cache.CachedAsset {
	return &cache.CachedAsset{
		ID:         a.ID,
		StationID:  a.StationID,
		Title:      a.Title,
		Artist:     a.Artist,
		Duration:   a.Duration,
		Type:       string(a.Type),
		Category:   a.Category,
		ContentRef: a.ContentRef,
	}
}

func fromCached(c *cache.CachedAsset) *models.Asset {
	return &models.Asset{
		ID:         c.ID,
		StationID:  c.StationID,
		Title:      c.Title,
		Artist:     c.Artist,
		Duration:   c.Duration,
		Type:       models.AssetType(c.Type),
		Category:   c.Category,
		ContentRef: c.ContentRef,
	}
}

// topOfHour is the start of the station-local hour containing now.
func topOfHour(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
}
