/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertNoActiveBlock  AlertType = "no_active_block"
	AlertEmptyRotation  AlertType = "empty_rotation"
	AlertMissingAsset   AlertType = "missing_asset"
	AlertDeadAir        AlertType = "dead_air"
	AlertStationError   AlertType = "station_error"
	AlertLiveShowForced AlertType = "live_show_forced_stop"
)

// AlertSeverity is the operator-facing urgency.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a persisted operator notification. Delivery is handled elsewhere.
type Alert struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	StationID string         `gorm:"type:uuid;index;not null" json:"station_id"`
	Type      AlertType      `gorm:"type:varchar(32);index;not null" json:"type"`
	Severity  AlertSeverity  `gorm:"type:varchar(16);not null" json:"severity"`
	Message   string         `gorm:"type:text" json:"message"`
	Context   map[string]any `gorm:"type:jsonb;serializer:json" json:"context,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}
