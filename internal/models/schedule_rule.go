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

// RuleType defines the kind of queue replenishment rule.
type RuleType string

const (
	RuleTypeRotation  RuleType = "rotation"   // Insert every N music tracks
	RuleTypeInterval  RuleType = "interval"   // Insert every N minutes
	RuleTypeDaypart   RuleType = "daypart"    // Narrow the music category during hours
	RuleTypeFixedTime RuleType = "fixed_time" // Handled by the real-time loop
)

// ScheduleRule drives queue replenishment. A nil StationID makes the rule global.
type ScheduleRule struct {
	ID        string    `gorm:"type:uuid;primaryKey" yaml:"id"`
	StationID *string   `gorm:"type:uuid;index" yaml:"station_id,omitempty"`
	Name      string    `gorm:"type:varchar(255);not null" yaml:"name"`
	Type      RuleType  `gorm:"type:varchar(32);not null" yaml:"type"`
	Priority  int       `gorm:"not null;default:0" yaml:"priority"`
	Days      []int     `gorm:"serializer:json" yaml:"days,omitempty"` // Weekdays, empty = every day
	Active    bool      `gorm:"not null;default:true" yaml:"active"`
	AssetType AssetType `gorm:"type:varchar(32)" yaml:"asset_type,omitempty"`
	Category  string    `gorm:"type:varchar(64)" yaml:"category,omitempty"`
	// Tracks for rotation, minutes for interval.
	Every int `yaml:"every,omitempty"`
	// Hour window; EndHour is exclusive and wraps when <= StartHour.
	StartHour int `yaml:"start_hour,omitempty"`
	EndHour   int `yaml:"end_hour,omitempty"`
	// HH:MM in station time.
	FixedTime string `gorm:"type:varchar(5)" yaml:"fixed_time,omitempty"`

	CreatedAt time.Time `yaml:"-"`
	UpdatedAt time.Time `yaml:"-"`
}

// TableName returns the table name for GORM.
func (ScheduleRule) TableName() string {
	return "schedule_rules"
}

// AppliesOn reports whether the rule is active on the given weekday.
func (r ScheduleRule) AppliesOn(day time.Weekday) bool {
	return len(r.Days) == 0 || slices.Contains(r.Days, int(day))
}

// RuleKind is the decoded variant of a rule. Implementations are RotationRule,
// IntervalRule, DaypartRule and FixedTimeRule.
type RuleKind interface {
	isRuleKind()
}

// AssetFilter narrows candidates by type and optional category.
type AssetFilter struct {
	Type     AssetType
	Category string
}

type RotationRule struct {
	Filter AssetFilter
	Tracks int
}

type IntervalRule struct {
	Filter AssetFilter
	Every  time.Duration
}

type DaypartRule struct {
	Category  string
	StartHour int
	EndHour   int
}

type FixedTimeRule struct {
	Filter AssetFilter
	At     string
}

func (RotationRule) isRuleKind()  {}
func (IntervalRule) isRuleKind()  {}
func (DaypartRule) isRuleKind()   {}
func (FixedTimeRule) isRuleKind() {}

// Covers reports whether the hour falls in the daypart; ranges wrap midnight.
func (d DaypartRule) Covers(hour int) bool {
	if d.StartHour == d.EndHour {
		return true
	}
	if d.StartHour < d.EndHour {
		return hour >= d.StartHour && hour < d.EndHour
	}
	return hour >= d.StartHour || hour < d.EndHour
}

// Kind decodes the stored rule type.
func (r ScheduleRule) Kind() (RuleKind, error) {
	filter := AssetFilter{Type: r.AssetType, Category: r.Category}
	switch r.Type {
	case RuleTypeRotation:
		if r.Every <= 0 {
			return nil, fmt.Errorf("rule %s: rotation needs every > 0", r.ID)
		}
		return RotationRule{Filter: filter, Tracks: r.Every}, nil
	case RuleTypeInterval:
		if r.Every <= 0 {
			return nil, fmt.Errorf("rule %s: interval needs every > 0", r.ID)
		}
		return IntervalRule{Filter: filter, Every: time.Duration(r.Every) * time.Minute}, nil
	case RuleTypeDaypart:
		return DaypartRule{Category: r.Category, StartHour: r.StartHour, EndHour: r.EndHour}, nil
	case RuleTypeFixedTime:
		return FixedTimeRule{Filter: filter, At: r.FixedTime}, nil
	default:
		return nil, fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
}
