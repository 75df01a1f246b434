/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue implements the per-station manual/lookahead FIFO. It runs
// alongside the block engine and never touches the on-air state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// ErrEntryNotFound is returned when skipping an unknown or finished entry.
var ErrEntryNotFound = errors.New("queue: entry not found")

// Enqueue reasons.
const (
	ReasonManual   = "manual"
	ReasonRotation = "rotation"
	ReasonInterval = "interval"
	ReasonFill     = "fill"
)

// Store persists queue entries.
type Store struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
}

// NewStore creates a queue store. A nil publisher disables events.
func NewStore(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Store {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Store{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Advance moves the station's FIFO forward at now. A playing entry without
// a start is stamped; one whose asset duration has elapsed is logged,
// marked played and replaced by the lowest pending entry. With nothing
// playing, the lowest pending entry is promoted.
func (s *Store) Advance(ctx context.Context, stationID string, now time.Time) (*AdvanceResult, error) {
	now = now.UTC()
	result := &AdvanceResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playing models.QueueEntry
		err := tx.Where("station_id = ? AND status = ?", stationID, models.QueuePlaying).
			Order("position ASC").
			First(&playing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			started, err := s.promote(tx, stationID, now)
			result.Started = started
			return err
		case err != nil:
			return fmt.Errorf("load playing entry: %w", err)
		}

		if playing.StartedAt == nil {
			if err := tx.Model(&playing).Update("started_at", now).Error; err != nil {
				return fmt.Errorf("stamp start: %w", err)
			}
			playing.StartedAt = &now
			result.Stamped = &playing
			return nil
		}

		dur, err := assetDuration(tx, playing.AssetID)
		if err != nil {
			return err
		}
		if now.Sub(*playing.StartedAt) < dur {
			return nil
		}

		entry := models.PlayLogEntry{
			ID:        uuid.NewString(),
			StationID: stationID,
			AssetID:   playing.AssetID,
			StartedAt: playing.StartedAt.UTC(),
			EndedAt:   playing.StartedAt.Add(dur).UTC(),
			Source:    models.SourceManual,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("log play: %w", err)
		}
		if err := tx.Model(&playing).Update("status", models.QueuePlayed).Error; err != nil {
			return fmt.Errorf("mark played: %w", err)
		}
		playing.Status = models.QueuePlayed
		result.Finished = &playing

		started, err := s.promote(tx, stationID, now)
		result.Started = started
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Finished != nil || result.Started != nil {
		payload := events.Payload{"station_id": stationID}
		if result.Finished != nil {
			payload["finished_entry_id"] = result.Finished.ID
			payload["finished_asset_id"] = result.Finished.AssetID
		}
		if result.Started != nil {
			payload["entry_id"] = result.Started.ID
			payload["asset_id"] = result.Started.AssetID
			payload["started_at"] = now
		}
		s.bus.Publish(events.EventQueueAdvanced, payload)
	}
	return result, nil
}

// AdvanceResult reports what Advance changed.
type AdvanceResult struct {
	Stamped  *models.QueueEntry
	Finished *models.QueueEntry
	Started  *models.QueueEntry
}

func (s *Store) promote(tx *gorm.DB, stationID string, now time.Time) (*models.QueueEntry, error) {
	var next models.QueueEntry
	err := tx.Where("station_id = ? AND status = ?", stationID, models.QueuePending).
		Order("position ASC").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load next pending entry: %w", err)
	}
	err = tx.Model(&next).Updates(map[string]any{
		"status":     models.QueuePlaying,
		"started_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("promote entry: %w", err)
	}
	next.Status = models.QueuePlaying
	next.StartedAt = &now
	return &next, nil
}

// Item is an asset to append and the reason it was added.
type Item struct {
	AssetID string
	Reason  string
}

// Enqueue appends assets to the end of the station's queue.
func (s *Store) Enqueue(ctx context.Context, stationID, reason string, assetIDs ...string) ([]models.QueueEntry, error) {
	items := make([]Item, len(assetIDs))
	for i, id := range assetIDs {
		items[i] = Item{AssetID: id, Reason: reason}
	}
	return s.EnqueueItems(ctx, stationID, items)
}

// EnqueueItems appends items in order in one transaction and returns the
// new entries.
func (s *Store) EnqueueItems(ctx context.Context, stationID string, items []Item) ([]models.QueueEntry, error) {
	if len(items) == 0 {
		return nil, nil
	}
	entries := make([]models.QueueEntry, 0, len(items))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last struct{ Max *int }
		if err := tx.Model(&models.QueueEntry{}).
			Select("MAX(position) AS max").
			Where("station_id = ?", stationID).
			Scan(&last).Error; err != nil {
			return fmt.Errorf("load last position: %w", err)
		}
		pos := 0
		if last.Max != nil {
			pos = *last.Max + 1
		}
		for _, item := range items {
			entries = append(entries, models.QueueEntry{
				ID:        uuid.NewString(),
				StationID: stationID,
				AssetID:   item.AssetID,
				Position:  pos,
				Status:    models.QueuePending,
			})
			pos++
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("create entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		telemetry.QueueEntriesAdded.WithLabelValues(stationID, item.Reason).Inc()
	}
	return entries, nil
}

// Skip marks a pending or playing entry as skipped.
func (s *Store) Skip(ctx context.Context, stationID, entryID string) error {
	res := s.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ? AND station_id = ? AND status IN ?", entryID, stationID,
			[]models.QueueStatus{models.QueuePending, models.QueuePlaying}).
		Update("status", models.QueueSkipped)
	if res.Error != nil {
		return fmt.Errorf("skip entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	s.logger.Debug().Str("station_id", stationID).Str("entry_id", entryID).Msg("queue entry skipped")
	return nil
}

// Pending lists the station's playing and pending entries in queue order.
func (s *Store) Pending(ctx context.Context, stationID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND status IN ?", stationID,
			[]models.QueueStatus{models.QueuePending, models.QueuePlaying}).
		Order("position ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return entries, nil
}

// QueuedDuration sums asset durations over pending and playing entries.
// Unknown or zero durations count as the default asset duration.
func (s *Store) QueuedDuration(ctx context.Context, stationID string) (time.Duration, error) {
	entries, err := s.Pending(ctx, stationID)
	if err != nil {
		return 0, err
	}
	durations, err := assetDurations(s.db.WithContext(ctx), assetIDsOf(entries))
	if err != nil {
		return 0, err
	}
	var total time.Duration
	for _, e := range entries {
		total += durations.of(e.AssetID)
	}
	telemetry.QueueDepthSeconds.WithLabelValues(stationID).Set(total.Seconds())
	return total, nil
}

// durationMap maps asset ids to known durations.
type durationMap map[string]time.Duration

func (m durationMap) of(assetID string) time.Duration {
	if d, ok := m[assetID]; ok && d > 0 {
		return d
	}
	return models.DefaultAssetDuration
}

func assetDurations(db *gorm.DB, ids []string) (durationMap, error) {
	out := make(durationMap, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var assets []models.Asset
	if err := db.Select("id", "duration").Where("id IN ?", ids).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("load asset durations: %w", err)
	}
	for _, a := range assets {
		out[a.ID] = a.Duration
	}
	return out, nil
}

func assetDuration(db *gorm.DB, assetID string) (time.Duration, error) {
	m, err := assetDurations(db, []string{assetID})
	if err != nil {
		return 0, err
	}
	return m.of(assetID), nil
}

func assetIDsOf(entries []models.QueueEntry) []string {
	ids := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.AssetID]; ok {
			continue
		}
		seen[e.AssetID] = struct{}{}
		ids = append(ids, e.AssetID)
	}
	return ids
}
