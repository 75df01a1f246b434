/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"slices"
	"time"
)

// BlackoutWindow suspends normal programming. A nil StationIDs list applies
// the window to every station.
type BlackoutWindow struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id" yaml:"id"`
	Name       string    `gorm:"type:varchar(255)" json:"name" yaml:"name"`
	StartsAt   time.Time `gorm:"index;not null" json:"starts_at" yaml:"starts_at"`
	EndsAt     time.Time `gorm:"index;not null" json:"ends_at" yaml:"ends_at"`
	IsBlackout bool      `gorm:"not null;default:true" json:"is_blackout" yaml:"is_blackout"`
	StationIDs []string  `gorm:"serializer:json" json:"station_ids" yaml:"station_ids,omitempty"`
	Generated  bool      `gorm:"index;not null;default:false" json:"generated" yaml:"generated"`
	Resolved   bool      `gorm:"index;not null;default:false" json:"resolved" yaml:"resolved"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

// AppliesTo reports whether the window covers the station.
func (w BlackoutWindow) AppliesTo(stationID string) bool {
	return w.StationIDs == nil || slices.Contains(w.StationIDs, stationID)
}

// Contains reports whether t is inside [StartsAt, EndsAt).
func (w BlackoutWindow) Contains(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}
