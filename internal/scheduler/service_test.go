/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
)

// Wednesday.
var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSchedulerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scheduler.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(&models.Station{}, &models.Asset{}, &models.QueueEntry{},
		&models.PlayLogEntry{}, &models.ScheduleRule{})
	if err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func seedMusic(t *testing.T, db *gorm.DB, n int, category string, d time.Duration) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", category, i)
		a := models.Asset{ID: ids[i], StationID: "s1", Title: ids[i], Type: models.AssetMusic, Category: category, Duration: d}
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("create asset: %v", err)
		}
	}
	return ids
}

func newTestService(db *gorm.DB, target time.Duration) (*Service, *queue.Store) {
	store := queue.NewStore(db, nil, zerolog.Nop())
	return New(db, store, nil, target, time.Second, zerolog.Nop()), store
}

func testStation() models.Station {
	return models.Station{ID: "s1", Name: "Test", Timezone: "UTC", Active: true}
}

func queuedAssets(t *testing.T, db *gorm.DB, store *queue.Store) []models.Asset {
	t.Helper()
	entries, err := store.Pending(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	out := make([]models.Asset, len(entries))
	for i, e := range entries {
		if err := db.First(&out[i], "id = ?", e.AssetID).Error; err != nil {
			t.Fatalf("load asset %s: %v", e.AssetID, err)
		}
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name           string
		target         time.Duration
		expectedTarget time.Duration
	}{
		{name: "zero target defaults to 24h", target: 0, expectedTarget: 24 * time.Hour},
		{name: "negative target defaults to 24h", target: -time.Hour, expectedTarget: 24 * time.Hour},
		{name: "positive target is preserved", target: 6 * time.Hour, expectedTarget: 6 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(nil, nil, nil, tt.target, 0, zerolog.Nop())
			if svc.target != tt.expectedTarget {
				t.Errorf("New() target = %v, want %v", svc.target, tt.expectedTarget)
			}
			if svc.interval != DefaultInterval {
				t.Errorf("New() interval = %v, want %v", svc.interval, DefaultInterval)
			}
		})
	}
}

func TestReplenishConvergesAtTarget(t *testing.T) {
	db := newSchedulerTestDB(t)
	seedMusic(t, db, 30, "pop", 4*time.Minute)
	svc, store := newTestService(db, time.Hour)
	ctx := context.Background()

	res, err := svc.Replenish(ctx, testStation(), testNow)
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if res.Added != 15 || res.AddedTime != time.Hour || res.Exhausted {
		t.Fatalf("unexpected first pass %+v", res)
	}

	res, err = svc.Replenish(ctx, testStation(), testNow)
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if res.Added != 0 || res.Queued != time.Hour {
		t.Fatalf("second pass should add nothing, got %+v", res)
	}

	got, err := store.QueuedDuration(ctx, "s1")
	if err != nil || got != time.Hour {
		t.Fatalf("QueuedDuration = %v, %v", got, err)
	}

	seen := map[string]bool{}
	for _, a := range queuedAssets(t, db, store) {
		if seen[a.ID] {
			t.Fatalf("asset %s queued twice", a.ID)
		}
		seen[a.ID] = true
	}
}

func TestReplenishStopsWhenPoolExhausted(t *testing.T) {
	db := newSchedulerTestDB(t)
	seedMusic(t, db, 5, "pop", 4*time.Minute)
	svc, _ := newTestService(db, time.Hour)
	ctx := context.Background()

	var last time.Duration
	for i := 0; i < 3; i++ {
		res, err := svc.Replenish(ctx, testStation(), testNow)
		if err != nil {
			t.Fatalf("Replenish: %v", err)
		}
		if res.Queued < last {
			t.Fatalf("queued duration shrank: %v < %v", res.Queued, last)
		}
		last = res.Queued
		if i == 0 && (res.Added != 5 || !res.Exhausted) {
			t.Fatalf("first pass %+v", res)
		}
		if i > 0 && res.Added != 0 {
			t.Fatalf("pass %d added %d with an exhausted pool", i, res.Added)
		}
	}
}

func TestReplenishRelaxesRecentExclusion(t *testing.T) {
	db := newSchedulerTestDB(t)
	ids := seedMusic(t, db, 3, "pop", 4*time.Minute)
	played := models.PlayLogEntry{
		ID: "log-1", StationID: "s1", AssetID: ids[0], Source: models.SourceScheduler,
		StartedAt: testNow.Add(-30 * time.Minute), EndedAt: testNow.Add(-26 * time.Minute),
	}
	if err := db.Create(&played).Error; err != nil {
		t.Fatalf("log: %v", err)
	}
	svc, store := newTestService(db, time.Hour)
	ctx := context.Background()

	res, err := svc.Replenish(ctx, testStation(), testNow)
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if res.Added != 2 {
		t.Fatalf("expected the 2 unplayed assets, got %+v", res)
	}
	for _, a := range queuedAssets(t, db, store) {
		if a.ID == ids[0] {
			t.Fatal("recently played asset queued before relaxation")
		}
	}

	res, err = svc.Replenish(ctx, testStation(), testNow)
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("relaxed pass should add the recently played asset, got %+v", res)
	}
}

func TestReplenishRotationRule(t *testing.T) {
	db := newSchedulerTestDB(t)
	seedMusic(t, db, 20, "pop", 4*time.Minute)
	jingle := models.Asset{ID: "jingle", StationID: "s1", Type: models.AssetJingle, Category: models.CategoryStationID, Duration: 30 * time.Second}
	if err := db.Create(&jingle).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	rule := models.ScheduleRule{
		ID: "r1", Name: "ID every 3", Type: models.RuleTypeRotation, Active: true,
		AssetType: models.AssetJingle, Category: models.CategoryStationID, Every: 3,
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	svc, store := newTestService(db, time.Hour)

	if _, err := svc.Replenish(context.Background(), testStation(), testNow); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	queued := queuedAssets(t, db, store)
	jingles := 0
	for i, a := range queued {
		isJingle := a.Type == models.AssetJingle
		if isJingle {
			jingles++
		}
		if want := i%4 == 3; isJingle != want {
			t.Fatalf("position %d: jingle=%v, want %v", i, isJingle, want)
		}
	}
	if jingles != 4 {
		t.Fatalf("expected 4 jingles, got %d", jingles)
	}
}

func TestReplenishIntervalRule(t *testing.T) {
	db := newSchedulerTestDB(t)
	seedMusic(t, db, 20, "pop", 4*time.Minute)
	weather := models.Asset{ID: "wx", StationID: "s1", Type: models.AssetWeather, Duration: time.Minute}
	if err := db.Create(&weather).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	rule := models.ScheduleRule{
		ID: "r1", Name: "Weather", Type: models.RuleTypeInterval, Active: true,
		AssetType: models.AssetWeather, Every: 10,
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	svc, store := newTestService(db, time.Hour)

	if _, err := svc.Replenish(context.Background(), testStation(), testNow); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	spots := 0
	for _, a := range queuedAssets(t, db, store) {
		if a.Type == models.AssetWeather {
			spots++
		}
	}
	// Tracks 3, 5, 8, 10 and 13 of the 15 estimated.
	if spots != 5 {
		t.Fatalf("expected 5 weather spots, got %d", spots)
	}
}

func TestReplenishDaypartAndWeekday(t *testing.T) {
	db := newSchedulerTestDB(t)
	seedMusic(t, db, 10, "pop", 4*time.Minute)
	seedMusic(t, db, 10, "jazz", 4*time.Minute)
	station := "s1"
	rules := []models.ScheduleRule{
		{ID: "daypart", StationID: &station, Name: "Jazz lunch", Type: models.RuleTypeDaypart, Active: true,
			Category: "jazz", StartHour: 11, EndHour: 14},
		{ID: "weekend-only", Name: "Weekend IDs", Type: models.RuleTypeRotation, Active: true,
			AssetType: models.AssetMusic, Category: "pop", Every: 1,
			Days: []int{int(time.Saturday), int(time.Sunday)}},
	}
	if err := db.Create(&rules).Error; err != nil {
		t.Fatalf("create rules: %v", err)
	}
	svc, store := newTestService(db, 20*time.Minute)

	if _, err := svc.Replenish(context.Background(), testStation(), testNow); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	queued := queuedAssets(t, db, store)
	if len(queued) != 5 {
		t.Fatalf("expected 5 tracks, got %d", len(queued))
	}
	for _, a := range queued {
		if a.Category != "jazz" {
			t.Fatalf("daypart should narrow to jazz, got %s", a.ID)
		}
	}
}
