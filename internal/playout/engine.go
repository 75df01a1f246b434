/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout runs the control loop that decides what every station
// airs.
package playout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/selector"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	DefaultPollInterval     = 3 * time.Second
	DefaultDeadAirThreshold = 30 * time.Second
)

// BlockResolver finds the active block for a station.
type BlockResolver interface {
	Resolve(ctx context.Context, station models.Station, t time.Time) (*models.Block, error)
}

// AssetSelector picks content for blocks and fallbacks.
type AssetSelector interface {
	Next(ctx context.Context, req selector.Request) (*selector.Selection, error)
	IntroJingle(ctx context.Context, station models.Station, block models.Block) (*selector.Selection, error)
	Emergency(ctx context.Context, station models.Station) (*selector.Selection, error)
	Silence(ctx context.Context, station models.Station) (*models.Asset, error)
	Asset(ctx context.Context, assetID string) (*models.Asset, error)
}

// BlackoutChecker reports the blackout window covering a station.
type BlackoutChecker interface {
	Active(ctx context.Context, stationID string, now time.Time) (*models.BlackoutWindow, error)
}

// AlertRaiser persists and forwards operator alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, alert models.Alert) error
}

// Deps are the collaborators of the engine. Queue and Publisher are optional.
type Deps struct {
	Resolver  BlockResolver
	Selector  AssetSelector
	Blackouts BlackoutChecker
	Alerts    AlertRaiser
	Queue     *queue.Store
	Publisher events.Publisher
}

// Config tunes the control loop.
type Config struct {
	PollInterval     time.Duration
	DeadAirThreshold time.Duration
}

// Engine is the playout control loop. Exactly one engine should drive a
// given set of stations.
type Engine struct {
	db     *gorm.DB
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	stateMu  sync.Mutex
	stations map[string]*stationState
}

// New creates an engine.
func New(db *gorm.DB, deps Deps, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DeadAirThreshold <= 0 {
		cfg.DeadAirThreshold = DefaultDeadAirThreshold
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Engine{
		db:       db,
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With().Str("component", "playout").Logger(),
		now:      time.Now,
		stations: make(map[string]*stationState),
	}
}

// Start launches the control loop. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.run(ctx, e.done)
}

// Stop halts the loop and waits for the current cycle to finish. Stopping
// a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if !e.running {
		e.lifeMu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.lifeMu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info().Dur("poll_interval", e.cfg.PollInterval).Msg("playout engine started")
	for {
		if err := e.Tick(ctx); err != nil {
			e.logger.Error().Err(err).Msg("playout cycle failed")
		}
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("playout engine stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle over every active station. A failing station is
// logged and never affects the others; only failing to list stations is
// returned.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		telemetry.PlayoutCyclesTotal.Inc()
		telemetry.PlayoutCycleDuration.Observe(time.Since(start).Seconds())
	}()

	var stations []models.Station
	if err := e.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&stations).Error; err != nil {
		telemetry.PlayoutErrorsTotal.WithLabelValues("", "load_stations").Inc()
		return fmt.Errorf("load stations: %w", err)
	}

	for _, station := range stations {
		e.runStation(ctx, station)
	}
	return nil
}

// runStation processes one station with panic isolation.
func (e *Engine) runStation(ctx context.Context, station models.Station) {
	st := e.state(station.ID)
	defer func() {
		if r := recover(); r != nil {
			telemetry.PlayoutErrorsTotal.WithLabelValues(station.ID, "panic").Inc()
			e.logger.Error().Str("station", station.ID).Interface("panic", r).Msg("recovered panic in station cycle")
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "playout", "station_cycle")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"station_id": station.ID})

	now := e.now().UTC()
	if err := e.processStation(ctx, station, st, now); err != nil {
		telemetry.RecordError(span, err)
		telemetry.PlayoutErrorsTotal.WithLabelValues(station.ID, "cycle").Inc()
		e.logger.Warn().Err(err).Str("station", station.ID).Msg("station cycle failed")
		if !st.errorAlerted {
			st.errorAlerted = true
			e.raise(ctx, models.Alert{
				StationID: station.ID,
				Type:      models.AlertStationError,
				Severity:  models.SeverityWarning,
				Message:   "Playout cycle failed: " + err.Error(),
			})
		}
	} else {
		st.errorAlerted = false
	}

	if e.deps.Queue != nil {
		if _, err := e.deps.Queue.Advance(ctx, station.ID, now); err != nil {
			telemetry.PlayoutErrorsTotal.WithLabelValues(station.ID, "queue").Inc()
			e.logger.Warn().Err(err).Str("station", station.ID).Msg("queue advance failed")
		}
	}
}

func (e *Engine) state(stationID string) *stationState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.stations[stationID]
	if !ok {
		st = &stationState{}
		e.stations[stationID] = st
	}
	return st
}

func (e *Engine) raise(ctx context.Context, alert models.Alert) {
	if e.deps.Alerts == nil {
		return
	}
	if err := e.deps.Alerts.Raise(ctx, alert); err != nil {
		telemetry.PlayoutErrorsTotal.WithLabelValues(alert.StationID, "alert").Inc()
		e.logger.Error().Err(err).Str("station", alert.StationID).Str("type", string(alert.Type)).Msg("failed to raise alert")
	}
}
