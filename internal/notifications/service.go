/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications records operator alerts and hands them to the
// event publisher. Delivery transports live outside this process.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// Service persists alerts and publishes them downstream.
type Service struct {
	db     *gorm.DB
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new notification service. A nil publisher discards events.
func NewService(db *gorm.DB, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		db:     db,
		pub:    pub,
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    time.Now,
	}
}

// Raise stores the alert and publishes it. Publication happens only after
// the row is written and never waits on delivery.
func (s *Service) Raise(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}

	telemetry.AlertsRaisedTotal.WithLabelValues(alert.StationID, string(alert.Type), string(alert.Severity)).Inc()

	evt := s.logger.Warn()
	if alert.Severity == models.SeverityCritical {
		evt = s.logger.Error()
	}
	evt.Str("station", alert.StationID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Msg(alert.Message)

	s.pub.Publish(events.EventAlert, events.Payload{
		"alert_id":   alert.ID,
		"station_id": alert.StationID,
		"type":       string(alert.Type),
		"severity":   string(alert.Severity),
		"message":    alert.Message,
		"context":    alert.Context,
		"created_at": alert.CreatedAt,
	})
	return nil
}

// Recent returns the newest alerts for a station.
func (s *Service) Recent(ctx context.Context, stationID string, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	return alerts, nil
}
