/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/selector"
)

type cursorStep struct {
	blockID string
	steps   int64
}

type pendingEvent struct {
	kind    events.EventType
	payload events.Payload
}

// cyclePlan collects the writes of one station cycle so they commit
// together. Alerts, events and state changes only apply after commit.
type cyclePlan struct {
	station models.Station
	now     time.Time
	current *models.NowPlayingState

	releaseLive *models.LiveShow
	finished    *models.PlayLogEntry
	next        *models.NowPlayingState
	cursor      *cursorStep

	alerts []models.Alert
	events []pendingEvent
	after  []func()
}

func (p *cyclePlan) publish(kind events.EventType, payload events.Payload) {
	p.events = append(p.events, pendingEvent{kind: kind, payload: payload})
}

// logFinished records the play that was on air, cut at now if it has not
// reached its end yet.
func (p *cyclePlan) logFinished() {
	cur := p.current
	if cur == nil || cur.AssetID == nil || cur.StartedAt == nil {
		return
	}
	ended := p.now
	if cur.EndsAt != nil && cur.EndsAt.Before(ended) {
		ended = *cur.EndsAt
	}
	source := cur.Source
	if source == "" {
		source = models.SourceScheduler
	}
	p.finished = &models.PlayLogEntry{
		ID:        uuid.NewString(),
		StationID: p.station.ID,
		AssetID:   *cur.AssetID,
		BlockID:   cur.BlockID,
		StartedAt: cur.StartedAt.UTC(),
		EndedAt:   ended.UTC(),
		Source:    source,
	}
}

// unlogged returns the finished play for selectors that read the log
// before this cycle writes it.
func (p *cyclePlan) unlogged() []selector.Play {
	if p.finished == nil {
		return nil
	}
	var kind models.AssetType
	if p.current != nil {
		if v, ok := p.current.Metadata["type"].(string); ok {
			kind = models.AssetType(v)
		}
	}
	return []selector.Play{{AssetID: p.finished.AssetID, AssetType: kind, StartedAt: p.finished.StartedAt}}
}

// play stages asset as the new on-air state.
func (p *cyclePlan) play(asset models.Asset, blockID *string, source models.DecisionSource, reason selector.Reason) {
	start := p.now
	end := start.Add(asset.PlayDuration())
	assetID := asset.ID
	p.next = &models.NowPlayingState{
		StationID: p.station.ID,
		AssetID:   &assetID,
		StartedAt: &start,
		EndsAt:    &end,
		BlockID:   blockID,
		Source:    source,
		Metadata: map[string]any{
			"title":       asset.Title,
			"artist":      asset.Artist,
			"type":        string(asset.Type),
			"category":    asset.Category,
			"content_ref": asset.ContentRef,
			"reason":      string(reason),
		},
		UpdatedAt: p.now,
	}

	payload := events.Payload{
		"station_id": p.station.ID,
		"asset_id":   asset.ID,
		"title":      asset.Title,
		"artist":     asset.Artist,
		"starts_at":  start,
		"ends_at":    end,
		"source":     string(source),
		"reason":     string(reason),
		"metadata":   p.next.Metadata,
	}
	if blockID != nil {
		payload["block_id"] = *blockID
	}
	p.publish(events.EventNowPlaying, payload)
}

// clear stages an empty on-air state when something is still recorded.
func (p *cyclePlan) clear() {
	if p.current == nil || p.current.AssetID == nil {
		return
	}
	p.next = &models.NowPlayingState{StationID: p.station.ID, UpdatedAt: p.now}
	p.publish(events.EventNowPlayingClear, events.Payload{"station_id": p.station.ID})
}

func (p *cyclePlan) empty() bool {
	return p.releaseLive == nil && p.finished == nil && p.next == nil && p.cursor == nil
}

// commit writes the plan in one transaction, then raises alerts, publishes
// events and applies the deferred state changes.
func (e *Engine) commit(ctx context.Context, p *cyclePlan) error {
	if !p.empty() {
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return e.write(tx, p)
		})
		if err != nil {
			return err
		}
	}

	for _, alert := range p.alerts {
		e.raise(ctx, alert)
	}
	for _, ev := range p.events {
		e.deps.Publisher.Publish(ev.kind, ev.payload)
	}
	for _, fn := range p.after {
		fn()
	}
	return nil
}

func (e *Engine) write(tx *gorm.DB, p *cyclePlan) error {
	if show := p.releaseLive; show != nil {
		err := tx.Model(&models.LiveShow{}).Where("id = ?", show.ID).Updates(map[string]any{
			"status":   models.LiveShowEnded,
			"ended_at": p.now,
		}).Error
		if err != nil {
			return fmt.Errorf("end live show: %w", err)
		}
		automation := make(map[string]any, len(p.station.Automation))
		for k, v := range p.station.Automation {
			if k != models.AutomationLiveShowID {
				automation[k] = v
			}
		}
		err = tx.Model(&models.Station{ID: p.station.ID}).
			Select("Automation").
			Updates(models.Station{Automation: automation}).Error
		if err != nil {
			return fmt.Errorf("release live show override: %w", err)
		}
	}

	if p.finished != nil {
		if err := tx.Create(p.finished).Error; err != nil {
			return fmt.Errorf("log play: %w", err)
		}
	}

	if p.next != nil {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(p.next).Error; err != nil {
			return fmt.Errorf("upsert now playing: %w", err)
		}
	}

	if c := p.cursor; c != nil {
		cursor := models.RotationCursor{
			StationID: p.station.ID,
			BlockID:   c.blockID,
			Position:  c.steps,
			UpdatedAt: p.now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "station_id"}, {Name: "block_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"position":   gorm.Expr("rotation_cursors.position + ?", c.steps),
				"updated_at": p.now,
			}),
		}).Create(&cursor).Error
		if err != nil {
			return fmt.Errorf("advance rotation cursor: %w", err)
		}
	}
	return nil
}
