/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Automation config keys stored on Station.Automation.
const (
	AutomationHourlyJingle           = "hourly_jingle"
	AutomationHourlyTimeAnnouncement = "hourly_time_announcement"
	AutomationWeatherInterval        = "weather_interval_minutes"
	AutomationLiveShowID             = "live_show_id"
	AutomationSilenceThreshold       = "silence_threshold_seconds"
	AutomationMusicCategory          = "music_category"
	AutomationObserveSabbath         = "observe_sabbath"
)

// Station is the broadcast unit the engine drives. Owned externally.
type Station struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id" yaml:"id"`
	Name       string         `gorm:"index" json:"name" yaml:"name"`
	Timezone   string         `gorm:"type:varchar(64)" json:"timezone" yaml:"timezone"`
	Latitude   *float64       `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Active     bool           `gorm:"index;not null;default:true" json:"active" yaml:"active"`
	Automation map[string]any `gorm:"type:jsonb;serializer:json" json:"automation,omitempty" yaml:"automation,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"-"`
}

// HasLocation reports whether sun-relative calculations are possible.
func (s Station) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Location loads the station timezone, falling back to UTC.
func (s Station) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// AutomationConfig is the typed view over Station.Automation.
type AutomationConfig struct {
	HourlyJingle           bool
	HourlyTimeAnnouncement bool
	WeatherInterval        time.Duration
	LiveShowID             string
	SilenceThreshold       time.Duration
	MusicCategory          string
	ObserveSabbath         bool
}

// AutomationConfig parses the free-form automation map.
func (s Station) AutomationConfig() AutomationConfig {
	m := s.Automation
	return AutomationConfig{
		HourlyJingle:           toBool(m[AutomationHourlyJingle]),
		HourlyTimeAnnouncement: toBool(m[AutomationHourlyTimeAnnouncement]),
		WeatherInterval:        time.Duration(toInt64(m[AutomationWeatherInterval])) * time.Minute,
		LiveShowID:             toString(m[AutomationLiveShowID]),
		SilenceThreshold:       time.Duration(toInt64(m[AutomationSilenceThreshold])) * time.Second,
		MusicCategory:          toString(m[AutomationMusicCategory]),
		ObserveSabbath:         toBool(m[AutomationObserveSabbath]),
	}
}

// AssetType classifies playable content.
type AssetType string

const (
	AssetMusic        AssetType = "music"
	AssetJingle       AssetType = "jingle"
	AssetAnnouncement AssetType = "announcement"
	AssetWeather      AssetType = "weather"
	AssetAd           AssetType = "ad"
	AssetSilence      AssetType = "silence"
	AssetEmergency    AssetType = "emergency"
)

// Well-known asset categories.
const (
	CategorySilence   = "silence"
	CategoryEmergency = "emergency"
	CategoryDoNotPlay = "do_not_play"
	CategoryIntro     = "intro"
	CategoryStationID = "station_id"
	CategoryTime      = "time"
)

// DefaultAssetDuration is used whenever an asset has no known duration.
// playoutd overrides it from configuration at startup.
var DefaultAssetDuration = 180 * time.Second

// Asset is a playable item. Metadata is owned by the media library.
type Asset struct {
	ID         string        `gorm:"type:uuid;primaryKey" json:"id" yaml:"id"`
	StationID  string        `gorm:"type:varchar(36);index" json:"station_id,omitempty" yaml:"station_id,omitempty"`
	Title      string        `gorm:"index" json:"title" yaml:"title"`
	Artist     string        `gorm:"index" json:"artist" yaml:"artist"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Type       AssetType     `gorm:"type:varchar(32);index" json:"type" yaml:"type"`
	Category   string        `gorm:"type:varchar(64);index" json:"category" yaml:"category"`
	ContentRef string        `json:"content_ref" yaml:"content_ref"`
	CreatedAt  time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time     `json:"updated_at" yaml:"-"`
}

// PlayDuration returns the duration used for scheduling.
func (a Asset) PlayDuration() time.Duration {
	if a.Duration <= 0 {
		return DefaultAssetDuration
	}
	return a.Duration
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	}
	return false
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case float32:
		return int64(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	return ""
}
