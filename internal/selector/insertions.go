/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// insertion returns an automation insertion that is due, pre-empting the
// block's rotation. Order: hourly jingle, time announcement, weather.
func (s *Selector) insertion(ctx context.Context, req Request) (*Selection, error) {
	cfg := req.Station.AutomationConfig()
	loc, _ := req.Station.Location()
	hour := topOfHour(req.Now, loc)

	if cfg.HourlyJingle {
		played, err := s.playedSince(ctx, req, models.AssetJingle, "", hour)
		if err != nil {
			return nil, err
		}
		if !played {
			id, err := s.hourlyJingle(ctx, req.Station.ID)
			if err != nil {
				return nil, err
			}
			if id != "" {
				return &Selection{AssetID: id, Reason: ReasonHourlyJingle}, nil
			}
		}
	}

	if cfg.HourlyTimeAnnouncement {
		played, err := s.playedSince(ctx, req, models.AssetAnnouncement, models.CategoryTime, hour)
		if err != nil {
			return nil, err
		}
		if !played {
			id, err := s.randomAsset(s.assets(ctx, req.Station.ID).
				Where("type = ? AND category = ?", models.AssetAnnouncement, models.CategoryTime))
			if err != nil {
				return nil, err
			}
			if id != "" {
				return &Selection{AssetID: id, Reason: ReasonTimeAnnouncement}, nil
			}
		}
	}

	if cfg.WeatherInterval > 0 {
		played, err := s.playedSince(ctx, req, models.AssetWeather, "", req.Now.Add(-cfg.WeatherInterval))
		if err != nil {
			return nil, err
		}
		if !played {
			id, err := s.randomAsset(s.assets(ctx, req.Station.ID).
				Where("type = ? AND category <> ?", models.AssetWeather, models.CategoryDoNotPlay))
			if err != nil {
				return nil, err
			}
			if id != "" {
				return &Selection{AssetID: id, Reason: ReasonWeather}, nil
			}
		}
	}

	return nil, nil
}

// hourlyJingle prefers station-id jingles and falls back to any playable one.
func (s *Selector) hourlyJingle(ctx context.Context, stationID string) (string, error) {
	id, err := s.randomAsset(s.assets(ctx, stationID).
		Where("type = ? AND category = ?", models.AssetJingle, models.CategoryStationID))
	if err != nil || id != "" {
		return id, err
	}
	return s.randomAsset(s.assets(ctx, stationID).
		Where("type = ? AND category <> ?", models.AssetJingle, models.CategoryDoNotPlay))
}

// playedSince reports whether an asset of the kind aired at or after since.
func (s *Selector) playedSince(ctx context.Context, req Request, kind models.AssetType, category string, since time.Time) (bool, error) {
	for _, p := range req.Unlogged {
		if p.AssetType == kind && !p.StartedAt.Before(since) {
			if category == "" {
				return true, nil
			}
			asset, err := s.Asset(ctx, p.AssetID)
			if err != nil {
				return false, err
			}
			if asset != nil && asset.Category == category {
				return true, nil
			}
		}
	}

	q := s.db.WithContext(ctx).Model(&models.PlayLogEntry{}).
		Joins("JOIN assets ON assets.id = play_log.asset_id").
		Where("play_log.station_id = ? AND assets.type = ? AND play_log.started_at >= ?", req.Station.ID, kind, since.UTC())
	if category != "" {
		q = q.Where("assets.category = ?", category)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check %s plays: %w", kind, err)
	}
	return n > 0, nil
}
