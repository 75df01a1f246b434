/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/selector"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// stationState is the in-memory memory of one station between cycles.
type stationState struct {
	// lastBlockID is the block resolved by the previous selection; seen
	// is false until the first resolution so startup is not a transition.
	lastBlockID string
	seen        bool

	deadAirSince   time.Time
	deadAirAlerted bool

	// gapReason is the alert already raised for the current gap.
	gapReason models.AlertType

	inBlackout   bool
	errorAlerted bool
}

func (st *stationState) resetDeadAir() {
	st.deadAirSince = time.Time{}
	st.deadAirAlerted = false
}

// processStation runs the LIVE_SHOW_OVERRIDE, BLACKOUT, NORMAL evaluation
// for one station.
func (e *Engine) processStation(ctx context.Context, station models.Station, st *stationState, now time.Time) error {
	current, err := e.loadNowPlaying(ctx, station.ID)
	if err != nil {
		return err
	}

	p := &cyclePlan{station: station, now: now, current: current}

	override, err := e.liveOverride(ctx, station, now, p)
	if err != nil {
		return err
	}
	if override {
		st.resetDeadAir()
		e.leaveBlackout(station.ID, st, nil)
		return nil
	}

	window, err := e.deps.Blackouts.Active(ctx, station.ID, now)
	if err != nil {
		return fmt.Errorf("check blackout: %w", err)
	}
	if window != nil {
		return e.blackout(ctx, station, st, window, p)
	}
	e.leaveBlackout(station.ID, st, p)

	return e.normal(ctx, station, st, p)
}

func (e *Engine) loadNowPlaying(ctx context.Context, stationID string) (*models.NowPlayingState, error) {
	var state models.NowPlayingState
	err := e.db.WithContext(ctx).Where("station_id = ?", stationID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load now playing: %w", err)
	}
	return &state, nil
}

// liveOverride reports whether a live show holds the station. A show past
// its scheduled end is released within the cycle's transaction and normal
// evaluation continues.
func (e *Engine) liveOverride(ctx context.Context, station models.Station, now time.Time, p *cyclePlan) (bool, error) {
	showID := station.AutomationConfig().LiveShowID
	if showID == "" {
		return false, nil
	}

	var show models.LiveShow
	err := e.db.WithContext(ctx).Where("id = ?", showID).First(&show).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		e.logger.Warn().Str("station", station.ID).Str("live_show_id", showID).Msg("live show override references unknown show")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load live show: %w", err)
	}

	if show.IsLive(now) {
		return true, nil
	}
	if show.Status != models.LiveShowLive {
		return false, nil
	}

	// Scheduled end has passed.
	p.releaseLive = &show
	p.alerts = append(p.alerts, models.Alert{
		StationID: station.ID,
		Type:      models.AlertLiveShowForced,
		Severity:  models.SeverityWarning,
		Message:   fmt.Sprintf("Live show %q passed its scheduled end and was stopped", show.Title),
		Context:   map[string]any{"live_show_id": show.ID},
	})
	p.publish(events.EventLiveReleased, events.Payload{
		"station_id":   station.ID,
		"live_show_id": show.ID,
		"ended_at":     now,
	})
	e.logger.Info().Str("station", station.ID).Str("live_show_id", show.ID).Msg("forcing live show stop")
	return false, nil
}

// blackout keeps the silence asset looping, or clears playback without one.
func (e *Engine) blackout(ctx context.Context, station models.Station, st *stationState, window *models.BlackoutWindow, p *cyclePlan) error {
	if !st.inBlackout {
		p.publish(events.EventBlackoutStart, events.Payload{
			"station_id": station.ID,
			"window_id":  window.ID,
			"name":       window.Name,
			"ends_at":    window.EndsAt,
		})
	}
	p.after = append(p.after, func() {
		st.inBlackout = true
		st.gapReason = ""
		st.resetDeadAir()
		telemetry.BlackoutActive.WithLabelValues(station.ID).Set(1)
	})

	silence, err := e.deps.Selector.Silence(ctx, station)
	if err != nil {
		return fmt.Errorf("load silence asset: %w", err)
	}

	current := p.current
	if silence == nil {
		p.logFinished()
		p.clear()
		return e.commit(ctx, p)
	}
	if current.Playing(p.now) && current.AssetID != nil && *current.AssetID == silence.ID {
		return e.commit(ctx, p)
	}

	// A programmed asset still on air is cut at the window start.
	p.logFinished()
	p.play(*silence, nil, models.SourceFallback, selector.ReasonSilence)
	return e.commit(ctx, p)
}

func (e *Engine) leaveBlackout(stationID string, st *stationState, p *cyclePlan) {
	if !st.inBlackout {
		return
	}
	st.inBlackout = false
	telemetry.BlackoutActive.WithLabelValues(stationID).Set(0)
	payload := events.Payload{"station_id": stationID}
	if p == nil {
		e.deps.Publisher.Publish(events.EventBlackoutEnd, payload)
		return
	}
	p.publish(events.EventBlackoutEnd, payload)
}

// normal is the block-driven selection path.
func (e *Engine) normal(ctx context.Context, station models.Station, st *stationState, p *cyclePlan) error {
	current := p.current
	// The blackout silence loop is cut once the window is over.
	if current.Playing(p.now) && !silenceLoop(current) {
		if current.Source != models.SourceFallback {
			st.resetDeadAir()
		}
		return e.commit(ctx, p)
	}
	p.logFinished()

	block, err := e.deps.Resolver.Resolve(ctx, station, p.now)
	if err != nil {
		return fmt.Errorf("resolve block: %w", err)
	}
	if block == nil {
		st.lastBlockID = ""
		st.seen = true
		e.gap(st, p, models.AlertNoActiveBlock, models.SeverityWarning,
			"No active programming block", nil)
		return e.silent(ctx, station, st, p)
	}

	transition := st.seen && st.lastBlockID != block.ID
	st.lastBlockID = block.ID
	st.seen = true

	var sel *selector.Selection
	if transition {
		sel, err = e.deps.Selector.IntroJingle(ctx, station, *block)
		if err != nil {
			return fmt.Errorf("select intro jingle: %w", err)
		}
	}
	if sel == nil {
		sel, err = e.deps.Selector.Next(ctx, selector.Request{
			Station:  station,
			Block:    *block,
			Now:      p.now,
			Unlogged: p.unlogged(),
		})
		if err != nil {
			return fmt.Errorf("select asset: %w", err)
		}
	}
	blockCtx := map[string]any{"block_id": block.ID, "block_name": block.Name}
	if sel == nil {
		e.gap(st, p, models.AlertEmptyRotation, models.SeverityWarning,
			fmt.Sprintf("Block %q has nothing to play", block.Name), blockCtx)
		return e.silent(ctx, station, st, p)
	}

	asset, err := e.deps.Selector.Asset(ctx, sel.AssetID)
	if err != nil {
		return fmt.Errorf("load asset %s: %w", sel.AssetID, err)
	}
	if asset == nil {
		blockCtx["asset_id"] = sel.AssetID
		e.gap(st, p, models.AlertMissingAsset, models.SeverityCritical,
			fmt.Sprintf("Asset %s selected for block %q does not exist", sel.AssetID, block.Name), blockCtx)
		return e.silent(ctx, station, st, p)
	}

	blockID := block.ID
	p.play(*asset, &blockID, models.SourceScheduler, sel.Reason)
	if sel.CursorSteps > 0 {
		p.cursor = &cursorStep{blockID: block.ID, steps: sel.CursorSteps}
	}
	p.after = append(p.after, func() {
		st.gapReason = ""
		st.resetDeadAir()
		telemetry.PlayoutSelectionsTotal.WithLabelValues(station.ID, string(sel.Reason)).Inc()
	})
	return e.commit(ctx, p)
}

// silenceLoop reports whether the on-air row is the blackout silence asset.
func silenceLoop(cur *models.NowPlayingState) bool {
	if cur == nil || cur.Source != models.SourceFallback {
		return false
	}
	reason, _ := cur.Metadata["reason"].(string)
	return reason == string(selector.ReasonSilence)
}

// gap queues an alert the first time a station enters a given gap.
func (e *Engine) gap(st *stationState, p *cyclePlan, kind models.AlertType, severity models.AlertSeverity, msg string, alertCtx map[string]any) {
	if st.gapReason == kind {
		return
	}
	p.alerts = append(p.alerts, models.Alert{
		StationID: p.station.ID,
		Type:      kind,
		Severity:  severity,
		Message:   msg,
		Context:   alertCtx,
	})
	p.after = append(p.after, func() { st.gapReason = kind })
}

// silent clears playback and runs the dead-air timer. Once the threshold
// is crossed the episode gets one CRITICAL alert and one emergency play.
func (e *Engine) silent(ctx context.Context, station models.Station, st *stationState, p *cyclePlan) error {
	p.clear()

	if st.deadAirSince.IsZero() {
		st.deadAirSince = p.now
	}
	threshold := e.cfg.DeadAirThreshold
	if override := station.AutomationConfig().SilenceThreshold; override > 0 {
		threshold = override
	}
	elapsed := p.now.Sub(st.deadAirSince)
	if st.deadAirAlerted || elapsed <= threshold {
		return e.commit(ctx, p)
	}

	p.alerts = append(p.alerts, models.Alert{
		StationID: station.ID,
		Type:      models.AlertDeadAir,
		Severity:  models.SeverityCritical,
		Message:   fmt.Sprintf("Dead air for %s", elapsed.Truncate(time.Second)),
		Context:   map[string]any{"since": st.deadAirSince, "threshold_seconds": threshold.Seconds()},
	})
	p.after = append(p.after, func() {
		st.deadAirAlerted = true
		telemetry.DeadAirEpisodesTotal.WithLabelValues(station.ID).Inc()
	})

	sel, err := e.deps.Selector.Emergency(ctx, station)
	if err != nil {
		e.logger.Warn().Err(err).Str("station", station.ID).Msg("dead air remediation lookup failed")
		return e.commit(ctx, p)
	}
	if sel == nil {
		e.logger.Warn().Str("station", station.ID).Msg("dead air remediation found no emergency asset")
		return e.commit(ctx, p)
	}
	asset, err := e.deps.Selector.Asset(ctx, sel.AssetID)
	if err != nil || asset == nil {
		e.logger.Warn().Err(err).Str("station", station.ID).Str("asset_id", sel.AssetID).Msg("dead air remediation asset unavailable")
		return e.commit(ctx, p)
	}
	p.play(*asset, nil, models.SourceFallback, sel.Reason)
	return e.commit(ctx, p)
}
