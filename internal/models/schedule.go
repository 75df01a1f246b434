/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"slices"
	"time"
)

// Schedule groups the programming blocks of a station.
type Schedule struct {
	ID        string  `gorm:"type:uuid;primaryKey" yaml:"id"`
	StationID string  `gorm:"type:uuid;index;not null" yaml:"station_id"`
	Name      string  `yaml:"name"`
	Active    bool    `gorm:"not null;default:true" yaml:"active"`
	Priority  int     `gorm:"not null;default:0" yaml:"priority"`
	Blocks    []Block `gorm:"foreignKey:ScheduleID" yaml:"blocks"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SunEvent anchors a block boundary to the sun.
type SunEvent string

const (
	SunNone    SunEvent = ""
	SunSunrise SunEvent = "sunrise"
	SunSunset  SunEvent = "sunset"
	SunDawn    SunEvent = "dawn"
	SunDusk    SunEvent = "dusk"
)

// Boundary is a block start or end. A zero SunEvent means Minute is a fixed
// minute of the local day; otherwise the boundary is SunEvent + OffsetMinutes.
type Boundary struct {
	Minute        int      `yaml:"minute"`
	SunEvent      SunEvent `gorm:"type:varchar(16)" yaml:"sun_event,omitempty"`
	OffsetMinutes int      `yaml:"offset_minutes,omitempty"`
}

// SunRelative reports whether the boundary depends on the sun.
func (b Boundary) SunRelative() bool {
	return b.SunEvent != SunNone
}

// PlaybackMode selects how a direct playlist is consumed.
type PlaybackMode string

const (
	PlaybackSequential PlaybackMode = "sequential"
	PlaybackShuffle    PlaybackMode = "shuffle"
	PlaybackWeighted   PlaybackMode = "weighted"
)

// RecurrenceKind is the stored tag of a block recurrence.
type RecurrenceKind string

const (
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceOneTime RecurrenceKind = "one_time"
)

// Block is a time window + recurrence rule + content source within a Schedule.
type Block struct {
	ID             string          `gorm:"type:uuid;primaryKey" yaml:"id"`
	ScheduleID     string          `gorm:"type:uuid;index;not null" yaml:"-"`
	Name           string          `yaml:"name"`
	Start          Boundary        `gorm:"embedded;embeddedPrefix:start_" yaml:"start"`
	End            Boundary        `gorm:"embedded;embeddedPrefix:end_" yaml:"end"`
	RecurrenceKind RecurrenceKind  `gorm:"type:varchar(16);not null;default:'daily'" yaml:"recurrence"`
	RecurrenceDays []int           `gorm:"serializer:json" yaml:"days,omitempty"`
	StartDate      *time.Time      `yaml:"start_date,omitempty"`
	EndDate        *time.Time      `yaml:"end_date,omitempty"`
	Priority       int             `gorm:"not null;default:0" yaml:"priority"`
	TemplateID     *string         `gorm:"type:uuid" yaml:"template_id,omitempty"`
	IntroCategory  string          `gorm:"type:varchar(64)" yaml:"intro_category,omitempty"`
	Entries        []PlaylistEntry `gorm:"foreignKey:BlockID" yaml:"entries,omitempty"`
	CreatedAt      time.Time       `yaml:"-"`
	UpdatedAt      time.Time       `yaml:"-"`
}

// PlaylistEntry is one asset in a block's direct playlist.
type PlaylistEntry struct {
	ID           string       `gorm:"type:uuid;primaryKey" yaml:"id"`
	BlockID      string       `gorm:"type:uuid;index;not null" yaml:"-"`
	AssetID      string       `gorm:"type:uuid;not null" yaml:"asset_id"`
	Position     int          `yaml:"position"`
	Weight       int          `gorm:"not null;default:1" yaml:"weight,omitempty"`
	PlaybackMode PlaybackMode `gorm:"type:varchar(16);not null;default:'sequential'" yaml:"mode,omitempty"`
}

// SortedEntries returns the playlist ordered by position.
func (b Block) SortedEntries() []PlaylistEntry {
	entries := slices.Clone(b.Entries)
	slices.SortStableFunc(entries, func(a, c PlaylistEntry) int {
		return a.Position - c.Position
	})
	return entries
}

// PlaybackMode is the mode of the first playlist entry, sequential if unset.
func (b Block) PlaybackMode() PlaybackMode {
	entries := b.SortedEntries()
	if len(entries) == 0 || entries[0].PlaybackMode == "" {
		return PlaybackSequential
	}
	return entries[0].PlaybackMode
}

// UsesTemplate reports whether content comes from a rotation template.
func (b Block) UsesTemplate() bool {
	return b.TemplateID != nil && *b.TemplateID != ""
}

// Template is an ordered list of rotation slots.
type Template struct {
	ID        string         `gorm:"type:uuid;primaryKey" yaml:"id"`
	StationID string         `gorm:"type:uuid;index" yaml:"station_id"`
	Name      string         `yaml:"name"`
	Slots     []TemplateSlot `gorm:"foreignKey:TemplateID" yaml:"slots"`
	CreatedAt time.Time      `yaml:"-"`
	UpdatedAt time.Time      `yaml:"-"`
}

// TemplateSlot filters the asset played at a rotation position.
type TemplateSlot struct {
	ID         string    `gorm:"type:uuid;primaryKey" yaml:"id"`
	TemplateID string    `gorm:"type:uuid;index;not null" yaml:"-"`
	Position   int       `yaml:"position"`
	AssetType  AssetType `gorm:"type:varchar(32)" yaml:"asset_type"`
	Category   string    `gorm:"type:varchar(64)" yaml:"category,omitempty"`
}

// RotationCursor persists the template position per station and block.
type RotationCursor struct {
	StationID string `gorm:"type:uuid;primaryKey"`
	BlockID   string `gorm:"type:uuid;primaryKey"`
	Position  int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// Recurrence is the decoded recurrence of a block. Implementations are
// Daily, Weekly, Monthly and OneTime.
type Recurrence interface {
	// Matches reports whether the civil date (in the station's zone) is an occurrence day.
	Matches(date time.Time) bool
	isRecurrence()
}

// Daily recurs every day.
type Daily struct{}

// Weekly recurs on the listed weekdays.
type Weekly struct{ Days []time.Weekday }

// Monthly recurs on the listed days of the month.
type Monthly struct{ Days []int }

// OneTime recurs on every date of an inclusive civil date range.
type OneTime struct{ From, To time.Time }

func (Daily) isRecurrence()   {}
func (Weekly) isRecurrence()  {}
func (Monthly) isRecurrence() {}
func (OneTime) isRecurrence() {}

func (Daily) Matches(time.Time) bool { return true }

func (w Weekly) Matches(date time.Time) bool {
	return slices.Contains(w.Days, date.Weekday())
}

func (m Monthly) Matches(date time.Time) bool {
	return slices.Contains(m.Days, date.Day())
}

func (o OneTime) Matches(date time.Time) bool {
	d := civilDay(date)
	if !o.From.IsZero() && d < civilDay(o.From) {
		return false
	}
	if !o.To.IsZero() && d > civilDay(o.To) {
		return false
	}
	return true
}

// civilDay compares dates by their calendar fields, ignoring zone.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// Recurrence decodes the stored tag into its variant.
func (b Block) Recurrence() (Recurrence, error) {
	switch b.RecurrenceKind {
	case RecurrenceDaily, "":
		return Daily{}, nil
	case RecurrenceWeekly:
		days := make([]time.Weekday, 0, len(b.RecurrenceDays))
		for _, d := range b.RecurrenceDays {
			if d < 0 || d > 6 {
				return nil, fmt.Errorf("block %s: weekday %d out of range", b.ID, d)
			}
			days = append(days, time.Weekday(d))
		}
		return Weekly{Days: days}, nil
	case RecurrenceMonthly:
		return Monthly{Days: slices.Clone(b.RecurrenceDays)}, nil
	case RecurrenceOneTime:
		if b.StartDate == nil && b.EndDate == nil {
			return nil, fmt.Errorf("block %s: one_time recurrence without date range", b.ID)
		}
		var o OneTime
		if b.StartDate != nil {
			o.From = *b.StartDate
		}
		if b.EndDate != nil {
			o.To = *b.EndDate
		}
		return o, nil
	default:
		return nil, fmt.Errorf("block %s: unknown recurrence %q", b.ID, b.RecurrenceKind)
	}
}
