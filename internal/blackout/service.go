/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package blackout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	DefaultHorizon         = 60 * 24 * time.Hour
	DefaultRefreshInterval = 6 * time.Hour
)

// Service keeps generated windows persisted for every observing station.
type Service struct {
	db       *gorm.DB
	gen      Generator
	checker  *Checker
	horizon  time.Duration
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the blackout sync service. The checker, if given, is
// invalidated after every sync.
func NewService(db *gorm.DB, checker *Checker, horizon, interval time.Duration, logger zerolog.Logger) *Service {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Service{
		db:       db,
		gen:      NewGenerator(),
		checker:  checker,
		horizon:  horizon,
		interval: interval,
		logger:   logger.With().Str("component", "blackout").Logger(),
		now:      time.Now,
	}
}

// Run re-syncs all observing stations until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("blackout sync loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("blackout sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	var stations []models.Station
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&stations).Error; err != nil {
		s.logger.Error().Err(err).Msg("blackout sync failed to load stations")
		return
	}

	now := s.now()
	for _, station := range stations {
		if !station.AutomationConfig().ObserveSabbath {
			continue
		}
		n, err := s.Sync(ctx, station, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("station", station.ID).Msg("blackout sync failed")
			continue
		}
		if n > 0 {
			s.logger.Info().Str("station", station.ID).Int("windows", n).Msg("blackout windows synced")
		}
	}
}

// Sync regenerates the station's windows over the horizon and persists them.
// Generated windows that have not started are replaced; windows that are
// past, in progress or resolved by an operator are left alone. Returns the
// number of windows written.
func (s *Service) Sync(ctx context.Context, station models.Station, now time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "blackout", "Sync")
	defer span.End()

	now = now.UTC()
	windows, err := s.gen.Generate(station, now, now.Add(s.horizon))
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	merged := Merge(windows)

	written := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.BlackoutWindow
		if err := tx.Where("generated = ? AND ends_at > ?", true, now).Find(&existing).Error; err != nil {
			return fmt.Errorf("load generated windows: %w", err)
		}

		var stale []string
		var kept []models.BlackoutWindow
		for _, w := range existing {
			if !ownedBy(w, station.ID) {
				continue
			}
			if w.StartsAt.After(now) && !w.Resolved {
				stale = append(stale, w.ID)
				continue
			}
			kept = append(kept, w)
		}

		if len(stale) > 0 {
			if err := tx.Where("id IN ?", stale).Delete(&models.BlackoutWindow{}).Error; err != nil {
				return fmt.Errorf("delete stale windows: %w", err)
			}
		}

		for _, w := range merged {
			if !w.EndsAt.After(now) || overlapsAny(w, kept) {
				continue
			}
			w.ID = uuid.NewString()
			if err := tx.Create(&w).Error; err != nil {
				return fmt.Errorf("create window %q: %w", w.Name, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}

	telemetry.BlackoutWindowsGenerated.WithLabelValues(station.ID).Add(float64(written))
	if s.checker != nil {
		s.checker.Invalidate(ctx)
	}
	return written, nil
}

// Upcoming lists unresolved windows that apply to the station and end after now.
func (s *Service) Upcoming(ctx context.Context, stationID string, now time.Time) ([]models.BlackoutWindow, error) {
	var windows []models.BlackoutWindow
	err := s.db.WithContext(ctx).
		Where("ends_at > ? AND resolved = ?", now.UTC(), false).
		Order("starts_at ASC").
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	out := windows[:0]
	for _, w := range windows {
		if w.AppliesTo(stationID) {
			out = append(out, w)
		}
	}
	return out, nil
}

// Resolve marks a window as released early by an operator.
func (s *Service) Resolve(ctx context.Context, windowID string) error {
	res := s.db.WithContext(ctx).Model(&models.BlackoutWindow{}).
		Where("id = ?", windowID).
		Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("resolve window: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if s.checker != nil {
		s.checker.Invalidate(ctx)
	}
	return nil
}

func ownedBy(w models.BlackoutWindow, stationID string) bool {
	return len(w.StationIDs) == 1 && w.StationIDs[0] == stationID
}

func overlapsAny(w models.BlackoutWindow, others []models.BlackoutWindow) bool {
	return slices.ContainsFunc(others, func(o models.BlackoutWindow) bool {
		return w.StartsAt.Before(o.EndsAt) && o.StartsAt.Before(w.EndsAt)
	})
}
