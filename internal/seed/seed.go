/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed loads YAML fixtures of stations, assets, schedules and the
// other rows the engine consumes. Applying a fixture twice is a no-op.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrInvalidFixture wraps every validation failure.
var ErrInvalidFixture = errors.New("seed: invalid fixture")

// namespace scopes derived ids so they never collide with random ones.
var namespace = uuid.MustParse("6f1d1d8e-5d8c-4b7e-9a55-2d3c1f0e8a10")

// derivedID is stable for the same parts, which keeps re-applying a
// fixture without explicit ids from duplicating rows.
func derivedID(kind string, parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(kind+":"+strings.Join(parts, "/"))).String()
}

// decodeStrict decodes node into out, rejecting unknown keys the same way
// the top-level decoder does.
func decodeStrict(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Station is a fixture station. Stations are active unless the fixture
// says otherwise.
type Station struct {
	models.Station
}

// UnmarshalYAML defaults Active to true before decoding.
func (s *Station) UnmarshalYAML(node *yaml.Node) error {
	s.Station.Active = true
	return decodeStrict(node, &s.Station)
}

// Schedule is a fixture schedule, active unless stated otherwise.
type Schedule struct {
	models.Schedule
}

func (s *Schedule) UnmarshalYAML(node *yaml.Node) error {
	s.Schedule.Active = true
	return decodeStrict(node, &s.Schedule)
}

// Rule is a fixture queue rule, active unless stated otherwise.
type Rule struct {
	models.ScheduleRule
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	r.ScheduleRule.Active = true
	return decodeStrict(node, &r.ScheduleRule)
}

// Blackout is a fixture blackout window. Windows silence programming
// unless is_blackout is false.
type Blackout struct {
	models.BlackoutWindow
}

func (b *Blackout) UnmarshalYAML(node *yaml.Node) error {
	b.BlackoutWindow.IsBlackout = true
	return decodeStrict(node, &b.BlackoutWindow)
}

// Fixture is the top-level document.
type Fixture struct {
	Stations  []Station               `yaml:"stations"`
	Assets    []models.Asset          `yaml:"assets"`
	Templates []models.Template       `yaml:"templates"`
	Schedules []Schedule              `yaml:"schedules"`
	Rules     []Rule                  `yaml:"rules"`
	Blackouts []Blackout              `yaml:"blackouts"`
	LiveShows []models.LiveShow       `yaml:"live_shows"`
}

// Result counts the rows written per kind.
type Result struct {
	Stations  int `json:"stations"`
	Assets    int `json:"assets"`
	Templates int `json:"templates"`
	Slots     int `json:"slots"`
	Schedules int `json:"schedules"`
	Blocks    int `json:"blocks"`
	Entries   int `json:"entries"`
	Rules     int `json:"rules"`
	Blackouts int `json:"blackouts"`
	LiveShows int `json:"live_shows"`
}

// Parse decodes a fixture. Unknown keys are rejected so typos surface early.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normalize fills missing ids, links children to their parents and checks
// the fields the engine cannot do without.
func (f *Fixture) normalize() error {
	for i := range f.Stations {
		st := &f.Stations[i].Station
		if st.ID == "" {
			return fmt.Errorf("%w: station %d has no id", ErrInvalidFixture, i)
		}
		if _, err := st.Location(); err != nil {
			return fmt.Errorf("%w: station %s: %v", ErrInvalidFixture, st.ID, err)
		}
	}
	for i := range f.Assets {
		a := &f.Assets[i]
		if a.ID == "" {
			return fmt.Errorf("%w: asset %d has no id", ErrInvalidFixture, i)
		}
		if a.Type == "" {
			a.Type = models.AssetMusic
		}
	}
	for i := range f.Templates {
		t := &f.Templates[i]
		if t.ID == "" {
			t.ID = derivedID("template", t.StationID, t.Name)
		}
		for j := range t.Slots {
			slot := &t.Slots[j]
			if slot.ID == "" {
				slot.ID = derivedID("slot", t.ID, strconv.Itoa(j))
			}
			slot.TemplateID = t.ID
		}
	}
	for i := range f.Schedules {
		s := &f.Schedules[i]
		if s.StationID == "" {
			return fmt.Errorf("%w: schedule %q has no station_id", ErrInvalidFixture, s.Name)
		}
		if s.ID == "" {
			s.ID = derivedID("schedule", s.StationID, s.Name)
		}
		for j := range s.Blocks {
			b := &s.Blocks[j]
			if b.ID == "" {
				b.ID = derivedID("block", s.ID, strconv.Itoa(j))
			}
			b.ScheduleID = s.ID
			if b.RecurrenceKind == "" {
				b.RecurrenceKind = models.RecurrenceDaily
			}
			if _, err := b.Recurrence(); err != nil {
				return fmt.Errorf("%w: block %s: %v", ErrInvalidFixture, b.ID, err)
			}
			for k := range b.Entries {
				e := &b.Entries[k]
				if e.ID == "" {
					e.ID = derivedID("entry", b.ID, strconv.Itoa(k))
				}
				e.BlockID = b.ID
				if e.Weight <= 0 {
					e.Weight = 1
				}
			}
		}
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.ID == "" {
			station := ""
			if r.StationID != nil {
				station = *r.StationID
			}
			r.ID = derivedID("rule", station, r.Name)
		}
		if _, err := r.Kind(); err != nil {
			return fmt.Errorf("%w: rule %q: %v", ErrInvalidFixture, r.Name, err)
		}
	}
	for i := range f.Blackouts {
		w := &f.Blackouts[i]
		if !w.EndsAt.After(w.StartsAt) {
			return fmt.Errorf("%w: blackout %q ends before it starts", ErrInvalidFixture, w.Name)
		}
		w.StartsAt = w.StartsAt.UTC()
		w.EndsAt = w.EndsAt.UTC()
		if w.ID == "" {
			w.ID = derivedID("blackout", w.Name, w.StartsAt.Format("2006-01-02T15:04:05Z"))
		}
	}
	for i := range f.LiveShows {
		s := &f.LiveShows[i]
		if s.ID == "" {
			s.ID = derivedID("live_show", s.StationID, s.Title)
		}
		if s.Status == "" {
			s.Status = models.LiveShowScheduled
		}
	}
	return nil
}

// Apply upserts the fixture in one transaction.
func Apply(ctx context.Context, db *gorm.DB, f *Fixture, logger zerolog.Logger) (Result, error) {
	var res Result
	upsert := clause.OnConflict{UpdateAll: true}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range f.Stations {
			st := s.Station
			if err := tx.Clauses(upsert).Create(&st).Error; err != nil {
				return fmt.Errorf("upsert station %s: %w", st.ID, err)
			}
			if err := setFlag(tx, &models.Station{}, st.ID, "active", st.Active); err != nil {
				return err
			}
			res.Stations++
		}

		if len(f.Assets) > 0 {
			if err := tx.Clauses(upsert).Create(&f.Assets).Error; err != nil {
				return fmt.Errorf("upsert assets: %w", err)
			}
			res.Assets = len(f.Assets)
		}

		for _, t := range f.Templates {
			if err := tx.Clauses(upsert).Omit(clause.Associations).Create(&t).Error; err != nil {
				return fmt.Errorf("upsert template %s: %w", t.ID, err)
			}
			res.Templates++
			if len(t.Slots) == 0 {
				continue
			}
			if err := tx.Clauses(upsert).Create(&t.Slots).Error; err != nil {
				return fmt.Errorf("upsert template %s slots: %w", t.ID, err)
			}
			res.Slots += len(t.Slots)
		}

		for _, fs := range f.Schedules {
			s := fs.Schedule
			if err := tx.Clauses(upsert).Omit(clause.Associations).Create(&s).Error; err != nil {
				return fmt.Errorf("upsert schedule %s: %w", s.ID, err)
			}
			if err := setFlag(tx, &models.Schedule{}, s.ID, "active", s.Active); err != nil {
				return err
			}
			res.Schedules++
			for _, b := range s.Blocks {
				if err := tx.Clauses(upsert).Omit(clause.Associations).Create(&b).Error; err != nil {
					return fmt.Errorf("upsert block %s: %w", b.ID, err)
				}
				res.Blocks++
				if len(b.Entries) == 0 {
					continue
				}
				if err := tx.Clauses(upsert).Create(&b.Entries).Error; err != nil {
					return fmt.Errorf("upsert block %s entries: %w", b.ID, err)
				}
				res.Entries += len(b.Entries)
			}
		}

		for _, fr := range f.Rules {
			r := fr.ScheduleRule
			if err := tx.Clauses(upsert).Create(&r).Error; err != nil {
				return fmt.Errorf("upsert rule %s: %w", r.ID, err)
			}
			if err := setFlag(tx, &models.ScheduleRule{}, r.ID, "active", r.Active); err != nil {
				return err
			}
			res.Rules++
		}
		for _, fb := range f.Blackouts {
			w := fb.BlackoutWindow
			if err := tx.Clauses(upsert).Create(&w).Error; err != nil {
				return fmt.Errorf("upsert blackout %s: %w", w.ID, err)
			}
			if err := setFlag(tx, &models.BlackoutWindow{}, w.ID, "is_blackout", w.IsBlackout); err != nil {
				return err
			}
			res.Blackouts++
		}
		if len(f.LiveShows) > 0 {
			if err := tx.Clauses(upsert).Create(&f.LiveShows).Error; err != nil {
				return fmt.Errorf("upsert live shows: %w", err)
			}
			res.LiveShows = len(f.LiveShows)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	logger.Info().
		Int("stations", res.Stations).
		Int("assets", res.Assets).
		Int("schedules", res.Schedules).
		Int("blocks", res.Blocks).
		Int("rules", res.Rules).
		Int("blackouts", res.Blackouts).
		Msg("fixture applied")
	return res, nil
}

// setFlag writes a boolean column after an upsert. Create replaces a false
// value with the column's default:true, so the stored value is set here.
func setFlag(tx *gorm.DB, model any, id, column string, value bool) error {
	if err := tx.Model(model).Where("id = ?", id).Update(column, value).Error; err != nil {
		return fmt.Errorf("set %s on %s: %w", column, id, err)
	}
	return nil
}
