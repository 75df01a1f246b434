/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// LiveShowStatus represents the lifecycle of a live show.
type LiveShowStatus string

const (
	LiveShowScheduled LiveShowStatus = "scheduled"
	LiveShowLive      LiveShowStatus = "live"
	LiveShowEnded     LiveShowStatus = "ended"
)

// LiveShow overrides automation while it is live and referenced by the
// station's live_show_id.
type LiveShow struct {
	ID           string         `gorm:"type:uuid;primaryKey" yaml:"id"`
	StationID    string         `gorm:"type:uuid;index;not null" yaml:"station_id"`
	Title        string         `yaml:"title"`
	Status       LiveShowStatus `gorm:"type:varchar(16);not null;default:'scheduled'" yaml:"status"`
	ScheduledEnd *time.Time     `yaml:"scheduled_end,omitempty"`
	StartedAt    *time.Time     `yaml:"started_at,omitempty"`
	EndedAt      *time.Time     `yaml:"ended_at,omitempty"`
	CreatedAt    time.Time      `yaml:"-"`
	UpdatedAt    time.Time      `yaml:"-"`
}

// IsLive reports whether the show still holds the override at now.
func (s *LiveShow) IsLive(now time.Time) bool {
	if s == nil || s.Status != LiveShowLive {
		return false
	}
	return s.ScheduledEnd == nil || now.Before(*s.ScheduledEnd)
}
