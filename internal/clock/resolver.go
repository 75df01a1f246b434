/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/sun"
)

// ErrStationNotFound is returned by ResolveStation for unknown stations.
var ErrStationNotFound = errors.New("clock: station not found")

// Resolver is a read-only query over schedules and blocks.
type Resolver struct {
	db     *gorm.DB
	logger zerolog.Logger

	warnMu     sync.Mutex
	warnedKeys map[string]struct{}
}

// NewResolver creates a resolver.
func NewResolver(db *gorm.DB, logger zerolog.Logger) *Resolver {
	return &Resolver{
		db:         db,
		logger:     logger.With().Str("component", "resolver").Logger(),
		warnedKeys: make(map[string]struct{}),
	}
}

// ResolveStation loads the station and resolves its active block at t.
func (r *Resolver) ResolveStation(ctx context.Context, stationID string, t time.Time) (*models.Block, error) {
	var station models.Station
	err := r.db.WithContext(ctx).Where("id = ?", stationID).First(&station).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load station: %w", err)
	}
	return r.Resolve(ctx, station, t)
}

type candidate struct {
	schedulePriority int
	blockPriority    int
	scheduleID       string
	block            models.Block
}

// Resolve returns the highest-priority block of the station's active
// schedules with an occurrence covering t in the station's timezone, or nil.
// An occurrence opens on a day the recurrence matches; a window that wraps
// past midnight keeps running into the next day. Ties on (schedule priority, block priority) go to the
// lowest (schedule id, block id).
func (r *Resolver) Resolve(ctx context.Context, station models.Station, t time.Time) (*models.Block, error) {
	loc, err := station.Location()
	if err != nil {
		r.warnOnce("tz:"+station.ID, func(l zerolog.Logger) {
			l.Warn().Err(err).Str("station_id", station.ID).Str("timezone", station.Timezone).
				Msg("invalid station timezone, falling back to UTC")
		})
	}
	local := t.In(loc)

	var schedules []models.Schedule
	err = r.db.WithContext(ctx).
		Where("station_id = ? AND active = ?", station.ID, true).
		Preload("Blocks.Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}

	days := &sunDays{station: station}
	cur := secondOfDay(local)
	prev := local.AddDate(0, 0, -1)

	var matches []candidate
	for _, schedule := range schedules {
		for _, block := range schedule.Blocks {
			rec, err := block.Recurrence()
			if err != nil {
				r.warnOnce("rec:"+block.ID, func(l zerolog.Logger) {
					l.Warn().Err(err).Str("block_id", block.ID).Msg("skipping block with invalid recurrence")
				})
				continue
			}
			if !r.occurs(block, rec, station, local, prev, cur, days) {
				continue
			}
			matches = append(matches, candidate{
				schedulePriority: schedule.Priority,
				blockPriority:    block.Priority,
				scheduleID:       schedule.ID,
				block:            block,
			})
		}
	}

	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.schedulePriority != b.schedulePriority {
			return a.schedulePriority > b.schedulePriority
		}
		if a.blockPriority != b.blockPriority {
			return a.blockPriority > b.blockPriority
		}
		if a.scheduleID != b.scheduleID {
			return a.scheduleID < b.scheduleID
		}
		return a.block.ID < b.block.ID
	})
	best := matches[0].block
	return &best, nil
}

// occurs checks the occurrence opening today, then the tail of the one that
// opened yesterday.
func (r *Resolver) occurs(block models.Block, rec models.Recurrence, station models.Station, local, prev time.Time, cur int, days *sunDays) bool {
	if rec.Matches(local) {
		if w, ok := r.blockWindow(block, station, local, local, days); ok && w.opening(cur) {
			return true
		}
	}
	if rec.Matches(prev) {
		if w, ok := r.blockWindow(block, station, prev, local, days); ok && w.tail(cur) {
			return true
		}
	}
	return false
}

// blockWindow resolves the start boundary on startDay and the end boundary
// on endDay. Sun-relative
// boundaries on a station without a location never match.
func (r *Resolver) blockWindow(block models.Block, station models.Station, startDay, endDay time.Time, days *sunDays) (window, bool) {
	start, ok := r.boundarySeconds(block.Start, block.ID, station, startDay, days)
	if !ok {
		return window{}, false
	}
	end, ok := r.boundarySeconds(block.End, block.ID, station, endDay, days)
	if !ok {
		return window{}, false
	}
	return window{start: start, end: end}, true
}

func (r *Resolver) boundarySeconds(b models.Boundary, blockID string, station models.Station, local time.Time, days *sunDays) (int, bool) {
	if !b.SunRelative() {
		return normalizeSeconds(b.Minute * 60), true
	}
	if !station.HasLocation() {
		r.warnOnce("loc:"+blockID, func(l zerolog.Logger) {
			l.Warn().Str("block_id", blockID).Str("station_id", station.ID).
				Msg("sun-relative block on station without location never matches")
		})
		return 0, false
	}
	day, err := days.get(local)
	if err != nil {
		r.warnOnce("sun:"+station.ID+":"+local.Format("2006-01-02"), func(l zerolog.Logger) {
			l.Warn().Err(err).Str("station_id", station.ID).Msg("no solar event for date")
		})
		return 0, false
	}
	at, err := day.At(b.SunEvent)
	if err != nil {
		r.warnOnce("evt:"+blockID, func(l zerolog.Logger) {
			l.Warn().Err(err).Str("block_id", blockID).Msg("invalid sun event")
		})
		return 0, false
	}
	at = at.In(local.Location()).Add(time.Duration(b.OffsetMinutes) * time.Minute)
	return normalizeSeconds(secondOfDay(at)), true
}

// sunDays computes solar events at most once per date per resolution.
type sunDays struct {
	station models.Station
	byDate  map[string]sunResult
}

type sunResult struct {
	day sun.Day
	err error
}

func (s *sunDays) get(local time.Time) (sun.Day, error) {
	key := local.Format("2006-01-02")
	if res, ok := s.byDate[key]; ok {
		return res.day, res.err
	}
	day, err := sun.Events(*s.station.Latitude, *s.station.Longitude, local)
	if s.byDate == nil {
		s.byDate = make(map[string]sunResult, 2)
	}
	s.byDate[key] = sunResult{day: day, err: err}
	return day, err
}

func (r *Resolver) warnOnce(key string, log func(zerolog.Logger)) {
	r.warnMu.Lock()
	_, seen := r.warnedKeys[key]
	if !seen {
		r.warnedKeys[key] = struct{}{}
	}
	r.warnMu.Unlock()
	if !seen {
		log(r.logger)
	}
}
