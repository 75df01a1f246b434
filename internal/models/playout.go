/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// DecisionSource records who decided a play.
type DecisionSource string

const (
	SourceScheduler DecisionSource = "scheduler"
	SourceManual    DecisionSource = "manual"
	SourceAd        DecisionSource = "ad"
	SourceFallback  DecisionSource = "fallback"
)

// NowPlayingState is the single on-air row per station.
type NowPlayingState struct {
	StationID string         `gorm:"type:uuid;primaryKey" json:"station_id"`
	AssetID   *string        `gorm:"type:uuid" json:"asset_id,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndsAt    *time.Time     `json:"ends_at,omitempty"`
	BlockID   *string        `gorm:"type:uuid" json:"block_id,omitempty"`
	Source    DecisionSource `gorm:"type:varchar(16)" json:"source,omitempty"`
	Metadata  map[string]any `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NowPlayingState) TableName() string {
	return "now_playing"
}

// Playing reports whether an asset is on air at now.
func (s *NowPlayingState) Playing(now time.Time) bool {
	return s != nil && s.AssetID != nil && s.EndsAt != nil && now.Before(*s.EndsAt)
}

// PlayLogEntry is the append-only record of what aired.
type PlayLogEntry struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	StationID string         `gorm:"type:uuid;index:idx_play_log_station_started,priority:1;not null" json:"station_id"`
	AssetID   string         `gorm:"type:uuid;index" json:"asset_id"`
	BlockID   *string        `gorm:"type:uuid;index" json:"block_id,omitempty"`
	StartedAt time.Time      `gorm:"index:idx_play_log_station_started,priority:2;not null" json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Source    DecisionSource `gorm:"type:varchar(16);not null" json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (PlayLogEntry) TableName() string {
	return "play_log"
}

// QueueStatus tracks a queue entry through the FIFO.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueuePlaying QueueStatus = "playing"
	QueuePlayed  QueueStatus = "played"
	QueueSkipped QueueStatus = "skipped"
)

// QueueEntry is one item of the secondary manual/lookahead track.
type QueueEntry struct {
	ID        string      `gorm:"type:uuid;primaryKey" json:"id"`
	StationID string      `gorm:"type:uuid;index:idx_queue_station_status,priority:1;not null" json:"station_id"`
	AssetID   string      `gorm:"type:uuid;not null" json:"asset_id"`
	Position  int         `gorm:"not null" json:"position"`
	Status    QueueStatus `gorm:"type:varchar(16);index:idx_queue_station_status,priority:2;not null;default:'pending'" json:"status"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
