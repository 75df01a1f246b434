/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler keeps each station's lookahead queue topped up from its
// replenishment rules and music library.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	DefaultTarget   = 24 * time.Hour
	DefaultInterval = 3 * time.Second

	// recentWindow excludes music played this recently from the fill.
	recentWindow = 2 * time.Hour
)

// Service replenishes the queue of every active station.
type Service struct {
	db       *gorm.DB
	store    *queue.Store
	cache    *cache.Cache
	bus      events.Publisher
	logger   zerolog.Logger
	target   time.Duration
	interval time.Duration
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	warnMu     sync.Mutex
	warnedKeys map[string]struct{}
}

// New constructs the replenishment service.
func New(db *gorm.DB, store *queue.Store, bus events.Publisher, target, interval time.Duration, logger zerolog.Logger) *Service {
	if target <= 0 {
		target = DefaultTarget
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Service{
		db:         db,
		store:      store,
		bus:        bus,
		target:     target,
		interval:   interval,
		logger:     logger.With().Str("component", "replenisher").Logger(),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		warnedKeys: make(map[string]struct{}),
	}
}

// SetCache sets the cache used for the station list.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Run replenishes every station on the service interval until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("target", s.target).Msg("replenishment loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("replenishment loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	stations, err := s.stations(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("replenisher failed to load stations")
		telemetry.PlayoutErrorsTotal.WithLabelValues("", "replenish_load_stations").Inc()
		return
	}

	now := s.now()
	for _, station := range stations {
		if _, err := s.Replenish(ctx, station, now); err != nil {
			s.logger.Warn().Err(err).Str("station", station.ID).Msg("queue replenishment failed")
			telemetry.PlayoutErrorsTotal.WithLabelValues(station.ID, "replenish").Inc()
		}
	}
}

// stations returns active stations, using the cached station list when
// available.
func (s *Service) stations(ctx context.Context) ([]models.Station, error) {
	if cached, ok := s.cache.GetStationList(ctx); ok {
		ids := make([]string, len(cached))
		for i, st := range cached {
			ids[i] = st.ID
		}
		var stations []models.Station
		if err := s.db.WithContext(ctx).Where("id IN ? AND active = ?", ids, true).Find(&stations).Error; err != nil {
			return nil, err
		}
		return stations, nil
	}

	var stations []models.Station
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&stations).Error; err != nil {
		return nil, err
	}

	cached := make([]cache.CachedStation, len(stations))
	for i, st := range stations {
		cached[i] = cache.CachedStation{ID: st.ID, Name: st.Name, Timezone: st.Timezone}
	}
	if err := s.cache.SetStationList(ctx, cached); err != nil {
		s.logger.Debug().Err(err).Msg("failed to cache station list")
	}
	return stations, nil
}

// Result summarizes one replenishment pass.
type Result struct {
	Queued    time.Duration
	Shortfall time.Duration
	Added     int
	AddedTime time.Duration
	Exhausted bool
}

// Replenish tops the station's queue up towards the target. Rules for the
// station-local weekday are applied by descending priority, then the
// remaining shortfall is filled with random music.
func (s *Service) Replenish(ctx context.Context, station models.Station, now time.Time) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "Replenish")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"station_id": station.ID})

	var res Result
	queued, err := s.store.QueuedDuration(ctx, station.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	res.Queued = queued
	if queued >= s.target {
		return res, nil
	}
	res.Shortfall = s.target - queued

	loc, err := station.Location()
	if err != nil {
		s.warnOnce("tz:"+station.ID, func(e *zerolog.Event) {
			e.Err(err).Str("station", station.ID).Msg("invalid station timezone, using UTC")
		})
	}
	local := now.In(loc)

	rules, err := s.rules(ctx, station, local.Weekday())
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}

	category := station.AutomationConfig().MusicCategory
	for _, r := range rules {
		if d, ok := r.kind.(models.DaypartRule); ok && d.Covers(local.Hour()) {
			category = d.Category
			break
		}
	}

	pool, err := s.musicPool(ctx, station.ID, category, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	if len(pool) == 0 {
		res.Exhausted = true
		s.warnOnce("empty_pool:"+station.ID+":"+category, func(e *zerolog.Event) {
			e.Str("station", station.ID).Str("category", category).Msg("no music available for queue fill")
		})
		return res, nil
	}

	avg := averageDuration(pool)
	songs := int(math.Ceil(float64(res.Shortfall) / float64(avg)))
	inserts, err := s.planInsertions(ctx, station.ID, rules, songs, avg)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}

	s.shuffle(pool)
	var items []queue.Item
	for i := 0; res.AddedTime < res.Shortfall; i++ {
		for _, ins := range inserts[i] {
			items = append(items, queue.Item{AssetID: ins.asset.ID, Reason: ins.reason})
			res.AddedTime += ins.asset.PlayDuration()
		}
		if res.AddedTime >= res.Shortfall {
			break
		}
		if i >= len(pool) {
			res.Exhausted = true
			break
		}
		items = append(items, queue.Item{AssetID: pool[i].ID, Reason: queue.ReasonFill})
		res.AddedTime += pool[i].PlayDuration()
	}

	if _, err := s.store.EnqueueItems(ctx, station.ID, items); err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	res.Added = len(items)

	if res.Added > 0 {
		s.logger.Debug().
			Str("station", station.ID).
			Int("added", res.Added).
			Dur("added_time", res.AddedTime).
			Dur("shortfall", res.Shortfall).
			Bool("exhausted", res.Exhausted).
			Msg("queue replenished")
		s.bus.Publish(events.EventQueueReplenished, events.Payload{
			"station_id": station.ID,
			"added":      res.Added,
			"added_ms":   res.AddedTime.Milliseconds(),
			"exhausted":  res.Exhausted,
		})
	}
	return res, nil
}

type activeRule struct {
	rule models.ScheduleRule
	kind models.RuleKind
}

// rules loads the station's and global active rules for the weekday,
// highest priority first.
func (s *Service) rules(ctx context.Context, station models.Station, day time.Weekday) ([]activeRule, error) {
	var rows []models.ScheduleRule
	err := s.db.WithContext(ctx).
		Where("(station_id = ? OR station_id IS NULL) AND active = ?", station.ID, true).
		Order("priority DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	out := make([]activeRule, 0, len(rows))
	for _, r := range rows {
		if !r.AppliesOn(day) {
			continue
		}
		kind, err := r.Kind()
		if err != nil {
			s.warnOnce("rule:"+r.ID, func(e *zerolog.Event) {
				e.Err(err).Str("rule", r.ID).Msg("skipping invalid schedule rule")
			})
			continue
		}
		out = append(out, activeRule{rule: r, kind: kind})
	}
	return out, nil
}

type insertion struct {
	asset  models.Asset
	reason string
}

// planInsertions maps music-track indexes to the rule assets placed before
// them. Indexes at or beyond songs are dropped.
func (s *Service) planInsertions(ctx context.Context, stationID string, rules []activeRule, songs int, avg time.Duration) (map[int][]insertion, error) {
	plan := make(map[int][]insertion)
	for _, r := range rules {
		var (
			filter  models.AssetFilter
			indexes []int
			reason  string
		)
		switch k := r.kind.(type) {
		case models.RotationRule:
			filter, reason = k.Filter, queue.ReasonRotation
			for i := k.Tracks; i < songs; i += k.Tracks {
				indexes = append(indexes, i)
			}
		case models.IntervalRule:
			filter, reason = k.Filter, queue.ReasonInterval
			for n := 1; ; n++ {
				i := int(math.Ceil(float64(time.Duration(n)*k.Every) / float64(avg)))
				if i >= songs {
					break
				}
				indexes = append(indexes, i)
			}
		case models.DaypartRule:
			continue
		case models.FixedTimeRule:
			s.logger.Debug().Str("rule", r.rule.ID).Str("at", k.At).Msg("fixed_time rule left to the real-time loop")
			continue
		}
		if len(indexes) == 0 {
			continue
		}

		candidates, err := s.ruleCandidates(ctx, stationID, filter)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			s.warnOnce("rule_empty:"+r.rule.ID, func(e *zerolog.Event) {
				e.Str("rule", r.rule.ID).Str("station", stationID).Msg("rule matches no assets")
			})
			continue
		}
		for _, i := range indexes {
			plan[i] = append(plan[i], insertion{asset: candidates[s.intn(len(candidates))], reason: reason})
		}
	}
	return plan, nil
}

func (s *Service) ruleCandidates(ctx context.Context, stationID string, f models.AssetFilter) ([]models.Asset, error) {
	q := s.assets(ctx, stationID).Where("category <> ?", models.CategoryDoNotPlay)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	var assets []models.Asset
	if err := q.Order("id ASC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("load rule candidates: %w", err)
	}
	return assets, nil
}

// musicPool returns fill candidates excluding queued and recently played
// assets, relaxing to only the queued exclusion when that empties the pool.
func (s *Service) musicPool(ctx context.Context, stationID, category string, now time.Time) ([]models.Asset, error) {
	q := s.assets(ctx, stationID).
		Where("type = ? AND category <> ?", models.AssetMusic, models.CategoryDoNotPlay)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var all []models.Asset
	if err := q.Order("id ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("load music: %w", err)
	}

	pending, err := s.store.Pending(ctx, stationID)
	if err != nil {
		return nil, err
	}
	queued := make(map[string]struct{}, len(pending))
	for _, e := range pending {
		queued[e.AssetID] = struct{}{}
	}

	var played []string
	err = s.db.WithContext(ctx).Model(&models.PlayLogEntry{}).
		Where("station_id = ? AND started_at >= ?", stationID, now.Add(-recentWindow).UTC()).
		Distinct().
		Pluck("asset_id", &played).Error
	if err != nil {
		return nil, fmt.Errorf("load recent plays: %w", err)
	}
	recent := make(map[string]struct{}, len(played))
	for _, id := range played {
		recent[id] = struct{}{}
	}

	strict := make([]models.Asset, 0, len(all))
	relaxed := make([]models.Asset, 0, len(all))
	for _, a := range all {
		if _, ok := queued[a.ID]; ok {
			continue
		}
		relaxed = append(relaxed, a)
		if _, ok := recent[a.ID]; !ok {
			strict = append(strict, a)
		}
	}
	if len(strict) > 0 {
		return strict, nil
	}
	return relaxed, nil
}

func (s *Service) assets(ctx context.Context, stationID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("(station_id = ? OR station_id = '' OR station_id IS NULL)", stationID)
}

func averageDuration(assets []models.Asset) time.Duration {
	var total time.Duration
	for _, a := range assets {
		total += a.PlayDuration()
	}
	return total / time.Duration(len(assets))
}

func (s *Service) shuffle(assets []models.Asset) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(assets), func(i, j int) { assets[i], assets[j] = assets[j], assets[i] })
}

func (s *Service) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *Service) warnOnce(key string, logFn func(e *zerolog.Event)) {
	s.warnMu.Lock()
	if _, ok := s.warnedKeys[key]; ok {
		s.warnMu.Unlock()
		return
	}
	s.warnedKeys[key] = struct{}{}
	s.warnMu.Unlock()

	logFn(s.logger.Warn())
}
