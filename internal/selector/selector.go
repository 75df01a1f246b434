/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package selector picks the next asset to air for a block.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Reason describes why an asset was chosen.
type Reason string

const (
	ReasonPlaylist         Reason = "playlist"
	ReasonTemplate         Reason = "template"
	ReasonHourlyJingle     Reason = "hourly_jingle"
	ReasonTimeAnnouncement Reason = "time_announcement"
	ReasonWeather          Reason = "weather"
	ReasonIntro            Reason = "intro"
	ReasonEmergency        Reason = "emergency"
	ReasonSilence          Reason = "silence"
)

// Selection is the chosen asset. CursorSteps is how far the block's
// rotation cursor must advance when the selection airs.
type Selection struct {
	AssetID     string
	Reason      Reason
	CursorSteps int64
}

// Play is a play not yet visible in the log, typically the one that just
// ended in the current cycle.
type Play struct {
	AssetID   string
	AssetType models.AssetType
	StartedAt time.Time
}

// Request carries the inputs of one selection.
type Request struct {
	Station models.Station
	Block   models.Block
	Now     time.Time
	// Unlogged plays are treated as more recent than anything in the log.
	Unlogged []Play
}

// Selector resolves blocks to assets. Safe for concurrent use.
type Selector struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a selector. cache may be nil.
func New(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Selector {
	return NewWithSeed(db, c, time.Now().UnixNano(), logger)
}

// NewWithSeed creates a selector with a deterministic random source.
func NewWithSeed(db *gorm.DB, c *cache.Cache, seed int64, logger zerolog.Logger) *Selector {
	return &Selector{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "selector").Logger(),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the asset to air next for the block, or nil when nothing is
// available. Only storage failures are returned as errors.
func (s *Selector) Next(ctx context.Context, req Request) (*Selection, error) {
	sel, err := s.insertion(ctx, req)
	if err != nil || sel != nil {
		return sel, err
	}

	if req.Block.UsesTemplate() {
		return s.fromTemplate(ctx, req)
	}

	entries := req.Block.SortedEntries()
	if len(entries) == 0 {
		return nil, nil
	}

	var id string
	switch req.Block.PlaybackMode() {
	case models.PlaybackShuffle:
		id, err = s.shuffle(ctx, req, entries)
	case models.PlaybackWeighted:
		id = s.weighted(entries)
	default:
		id, err = s.sequential(ctx, req, entries)
	}
	if err != nil || id == "" {
		return nil, err
	}
	return &Selection{AssetID: id, Reason: ReasonPlaylist}, nil
}

// sequential returns the entry after the last-played one, wrapping.
func (s *Selector) sequential(ctx context.Context, req Request, entries []models.PlaylistEntry) (string, error) {
	ids := entryAssetIDs(entries)
	recent, err := s.recentDistinct(ctx, req, ids, 1)
	if err != nil {
		return "", err
	}
	if len(recent) == 0 {
		return entries[0].AssetID, nil
	}
	last := slices.Index(ids, recent[0])
	return entries[(last+1)%len(entries)].AssetID, nil
}

// shuffle draws uniformly, excluding the most recently played half.
func (s *Selector) shuffle(ctx context.Context, req Request, entries []models.PlaylistEntry) (string, error) {
	ids := uniqueStrings(entryAssetIDs(entries))
	recent, err := s.recentDistinct(ctx, req, ids, len(ids)/2)
	if err != nil {
		return "", err
	}
	pool := without(ids, recent)
	if len(pool) == 0 {
		pool = ids
	}
	return pool[s.intn(len(pool))], nil
}

// weighted draws proportionally to entry weight, minimum 1.
func (s *Selector) weighted(entries []models.PlaylistEntry) string {
	total := 0
	for _, e := range entries {
		total += max(e.Weight, 1)
	}
	pick := s.intn(total)
	for _, e := range entries {
		pick -= max(e.Weight, 1)
		if pick < 0 {
			return e.AssetID
		}
	}
	return entries[len(entries)-1].AssetID
}

// fromTemplate resolves the slot at the block's rotation cursor. Slots with
// no candidates are skipped and counted in CursorSteps.
func (s *Selector) fromTemplate(ctx context.Context, req Request) (*Selection, error) {
	var tmpl models.Template
	err := s.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&tmpl, "id = ?", *req.Block.TemplateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn().Str("block_id", req.Block.ID).Str("template_id", *req.Block.TemplateID).Msg("block references missing template")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if len(tmpl.Slots) == 0 {
		return nil, nil
	}

	cursor, err := s.Cursor(ctx, req.Station.ID, req.Block.ID)
	if err != nil {
		return nil, err
	}

	n := int64(len(tmpl.Slots))
	for step := int64(0); step < n; step++ {
		slot := tmpl.Slots[(cursor+step)%n]
		candidates, err := s.slotCandidates(ctx, req.Station.ID, slot)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		recent, err := s.recentDistinct(ctx, req, candidates, len(candidates)/3)
		if err != nil {
			return nil, err
		}
		pool := without(candidates, recent)
		if len(pool) == 0 {
			pool = candidates
		}
		return &Selection{
			AssetID:     pool[s.intn(len(pool))],
			Reason:      ReasonTemplate,
			CursorSteps: step + 1,
		}, nil
	}
	return nil, nil
}

// Cursor returns the persisted rotation position for a station's block.
func (s *Selector) Cursor(ctx context.Context, stationID, blockID string) (int64, error) {
	var cur models.RotationCursor
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND block_id = ?", stationID, blockID).
		First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rotation cursor: %w", err)
	}
	return cur.Position, nil
}

func (s *Selector) slotCandidates(ctx context.Context, stationID string, slot models.TemplateSlot) ([]string, error) {
	q := s.assets(ctx, stationID).Where("category <> ?", models.CategoryDoNotPlay)
	if slot.AssetType != "" {
		q = q.Where("type = ?", slot.AssetType)
	}
	if slot.Category != "" {
		q = q.Where("category = ?", slot.Category)
	}
	var ids []string
	if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load slot candidates: %w", err)
	}
	return ids, nil
}

func (s *Selector) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func entryAssetIDs(entries []models.PlaylistEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.AssetID
	}
	return ids
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func without(ids, exclude []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(exclude, id) {
			out = append(out, id)
		}
	}
	return out
}
