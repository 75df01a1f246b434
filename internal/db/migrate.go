/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Models lists every table the engine owns or reads.
func Models() []any {
	return []any{
		// Externally owned, read by the engine
		&models.Station{},
		&models.Asset{},
		&models.LiveShow{},

		// Programming
		&models.Schedule{},
		&models.Block{},
		&models.PlaylistEntry{},
		&models.Template{},
		&models.TemplateSlot{},
		&models.RotationCursor{},
		&models.ScheduleRule{},
		&models.BlackoutWindow{},

		// Engine output
		&models.NowPlayingState{},
		&models.PlayLogEntry{},
		&models.QueueEntry{},
		&models.Alert{},
	}
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := applyPendingQueuePositionGuard(database); err != nil {
		return err
	}
	return nil
}

// applyPendingQueuePositionGuard keeps queue positions unique among a
// station's pending entries. MySQL has no partial indexes, so there the
// queue store's transaction is the only guard.
func applyPendingQueuePositionGuard(database *gorm.DB) error {
	switch database.Dialector.Name() {
	case "postgres", "sqlite":
	default:
		return nil
	}

	stmt := `CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_pending_position
ON queue_entries (station_id, position)
WHERE status = 'pending'`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply pending queue position guard: %w", err)
	}
	return nil
}
