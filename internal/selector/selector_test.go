/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

var testNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func newSelectorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "selector.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Station{}, &models.Asset{}, &models.Template{}, &models.TemplateSlot{},
		&models.RotationCursor{}, &models.PlayLogEntry{},
	)
	if err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func testStation() models.Station {
	return models.Station{ID: "s1", Name: "Test FM", Timezone: "UTC", Active: true}
}

func addAsset(t *testing.T, db *gorm.DB, id string, typ models.AssetType, category string) {
	t.Helper()
	a := models.Asset{ID: id, StationID: "s1", Title: id, Type: typ, Category: category, Duration: time.Minute}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}
}

func logPlay(t *testing.T, db *gorm.DB, assetID string, at time.Time) {
	t.Helper()
	entry := models.PlayLogEntry{
		ID:        uuid.NewString(),
		StationID: "s1",
		AssetID:   assetID,
		StartedAt: at.UTC(),
		EndedAt:   at.Add(time.Minute).UTC(),
		Source:    models.SourceScheduler,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("log play: %v", err)
	}
}

func playlistBlock(mode models.PlaybackMode, ids ...string) models.Block {
	b := models.Block{ID: "b1", Name: "Block"}
	for i, id := range ids {
		b.Entries = append(b.Entries, models.PlaylistEntry{
			ID: id + "-entry", BlockID: "b1", AssetID: id, Position: i, Weight: 1, PlaybackMode: mode,
		})
	}
	return b
}

func TestSequentialVisitsEveryEntryBeforeRepeat(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())
	ctx := context.Background()
	block := playlistBlock(models.PlaybackSequential, "a1", "a2", "a3", "a4")
	// Positions out of insertion order must still be honored.
	block.Entries[0].Position, block.Entries[3].Position = 3, 0

	var got []string
	at := testNow
	for i := 0; i < 8; i++ {
		s, err := sel.Next(ctx, Request{Station: testStation(), Block: block, Now: at})
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if s == nil {
			t.Fatal("expected a selection")
		}
		got = append(got, s.AssetID)
		logPlay(t, db, s.AssetID, at)
		at = at.Add(time.Minute)
	}

	want := []string{"a4", "a2", "a3", "a1", "a4", "a2", "a3", "a1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestSequentialHonorsUnloggedPlay(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())
	block := playlistBlock(models.PlaybackSequential, "a1", "a2", "a3")
	logPlay(t, db, "a1", testNow.Add(-10*time.Minute))

	s, err := sel.Next(context.Background(), Request{
		Station:  testStation(),
		Block:    block,
		Now:      testNow,
		Unlogged: []Play{{AssetID: "a2", AssetType: models.AssetMusic, StartedAt: testNow.Add(-3 * time.Minute)}},
	})
	if err != nil || s == nil {
		t.Fatalf("Next: %+v, %v", s, err)
	}
	if s.AssetID != "a3" {
		t.Fatalf("expected a3 after unlogged a2, got %s", s.AssetID)
	}
}

func TestShuffleExcludesRecentHalf(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 7, zerolog.Nop())
	block := playlistBlock(models.PlaybackShuffle, "a1", "a2", "a3", "a4")
	logPlay(t, db, "a3", testNow.Add(-30*time.Minute))
	logPlay(t, db, "a1", testNow.Add(-20*time.Minute))
	logPlay(t, db, "a2", testNow.Add(-10*time.Minute))

	seen := map[string]int{}
	for i := 0; i < 40; i++ {
		s, err := sel.Next(context.Background(), Request{Station: testStation(), Block: block, Now: testNow})
		if err != nil || s == nil {
			t.Fatalf("Next: %+v, %v", s, err)
		}
		seen[s.AssetID]++
	}
	if seen["a1"] > 0 || seen["a2"] > 0 {
		t.Fatalf("recently played half was selected: %v", seen)
	}
	if seen["a3"] == 0 || seen["a4"] == 0 {
		t.Fatalf("expected both remaining assets to be drawn: %v", seen)
	}
}

func TestWeightedPrefersHeavyEntries(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 3, zerolog.Nop())
	block := playlistBlock(models.PlaybackWeighted, "heavy", "light", "zero")
	block.Entries[0].Weight = 500
	block.Entries[1].Weight = 1
	block.Entries[2].Weight = 0

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		s, err := sel.Next(context.Background(), Request{Station: testStation(), Block: block, Now: testNow})
		if err != nil || s == nil {
			t.Fatalf("Next: %+v, %v", s, err)
		}
		counts[s.AssetID]++
	}
	if counts["heavy"] < 180 {
		t.Fatalf("heavy entry under-selected: %v", counts)
	}
	for id := range counts {
		if id != "heavy" && id != "light" && id != "zero" {
			t.Fatalf("unexpected asset %s", id)
		}
	}
}

func TestEmptyBlockReturnsNothing(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())
	s, err := sel.Next(context.Background(), Request{Station: testStation(), Block: models.Block{ID: "b1"}, Now: testNow})
	if err != nil || s != nil {
		t.Fatalf("expected nil selection, got %+v, %v", s, err)
	}
}

func templateBlock(t *testing.T, db *gorm.DB, slots ...models.TemplateSlot) models.Block {
	t.Helper()
	tmpl := models.Template{ID: "t1", StationID: "s1", Name: "Hour", Slots: slots}
	if err := db.Create(&tmpl).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}
	id := tmpl.ID
	return models.Block{ID: "b1", TemplateID: &id}
}

func setCursor(t *testing.T, db *gorm.DB, pos int64) {
	t.Helper()
	c := models.RotationCursor{StationID: "s1", BlockID: "b1", Position: pos}
	if err := db.Save(&c).Error; err != nil {
		t.Fatalf("save cursor: %v", err)
	}
}

func TestTemplateSlotFollowsCursor(t *testing.T) {
	db := newSelectorTestDB(t)
	addAsset(t, db, "m1", models.AssetMusic, "pop")
	addAsset(t, db, "m2", models.AssetMusic, "pop")
	addAsset(t, db, "m3", models.AssetMusic, models.CategoryDoNotPlay)
	addAsset(t, db, "j1", models.AssetJingle, models.CategoryStationID)
	block := templateBlock(t, db,
		models.TemplateSlot{ID: "slot-1", Position: 1, AssetType: models.AssetJingle, Category: models.CategoryStationID},
		models.TemplateSlot{ID: "slot-0", Position: 0, AssetType: models.AssetMusic},
	)
	sel := NewWithSeed(db, nil, 5, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		s, err := sel.Next(ctx, Request{Station: testStation(), Block: block, Now: testNow})
		if err != nil || s == nil {
			t.Fatalf("Next: %+v, %v", s, err)
		}
		if s.AssetID != "m1" && s.AssetID != "m2" {
			t.Fatalf("slot 0 picked %s", s.AssetID)
		}
		if s.CursorSteps != 1 || s.Reason != ReasonTemplate {
			t.Fatalf("unexpected selection %+v", s)
		}
	}

	setCursor(t, db, 3)
	s, err := sel.Next(ctx, Request{Station: testStation(), Block: block, Now: testNow})
	if err != nil || s == nil || s.AssetID != "j1" {
		t.Fatalf("cursor 3 should map to slot 1, got %+v, %v", s, err)
	}
}

func TestTemplateSkipsEmptySlots(t *testing.T) {
	db := newSelectorTestDB(t)
	addAsset(t, db, "m1", models.AssetMusic, "pop")
	block := templateBlock(t, db,
		models.TemplateSlot{ID: "slot-0", Position: 0, AssetType: models.AssetWeather},
		models.TemplateSlot{ID: "slot-1", Position: 1, AssetType: models.AssetMusic},
	)
	sel := NewWithSeed(db, nil, 5, zerolog.Nop())

	s, err := sel.Next(context.Background(), Request{Station: testStation(), Block: block, Now: testNow})
	if err != nil || s == nil {
		t.Fatalf("Next: %+v, %v", s, err)
	}
	if s.AssetID != "m1" || s.CursorSteps != 2 {
		t.Fatalf("expected m1 after skipping one slot, got %+v", s)
	}
}

func TestTemplateExcludesRecentThird(t *testing.T) {
	db := newSelectorTestDB(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		addAsset(t, db, id, models.AssetMusic, "pop")
	}
	block := templateBlock(t, db, models.TemplateSlot{ID: "slot-0", Position: 0, AssetType: models.AssetMusic})
	logPlay(t, db, "m2", testNow.Add(-5*time.Minute))
	sel := NewWithSeed(db, nil, 11, zerolog.Nop())

	for i := 0; i < 30; i++ {
		s, err := sel.Next(context.Background(), Request{Station: testStation(), Block: block, Now: testNow})
		if err != nil || s == nil {
			t.Fatalf("Next: %+v, %v", s, err)
		}
		if s.AssetID == "m2" {
			t.Fatal("most recently played candidate was selected")
		}
	}
}

func TestInsertions(t *testing.T) {
	tests := []struct {
		name       string
		automation map[string]any
		logged     map[string]time.Time
		want       Reason
	}{
		{
			name:       "hourly jingle due",
			automation: map[string]any{models.AutomationHourlyJingle: true},
			want:       ReasonHourlyJingle,
		},
		{
			name:       "hourly jingle already aired this hour",
			automation: map[string]any{models.AutomationHourlyJingle: true},
			logged:     map[string]time.Time{"jingle": testNow.Add(-20 * time.Minute)},
			want:       ReasonPlaylist,
		},
		{
			name:       "jingle from previous hour does not count",
			automation: map[string]any{models.AutomationHourlyJingle: true},
			logged:     map[string]time.Time{"jingle": testNow.Add(-40 * time.Minute)},
			want:       ReasonHourlyJingle,
		},
		{
			name:       "time announcement after jingle",
			automation: map[string]any{models.AutomationHourlyJingle: true, models.AutomationHourlyTimeAnnouncement: "true"},
			logged:     map[string]time.Time{"jingle": testNow.Add(-10 * time.Minute)},
			want:       ReasonTimeAnnouncement,
		},
		{
			name:       "weather interval due",
			automation: map[string]any{models.AutomationWeatherInterval: float64(15)},
			logged:     map[string]time.Time{"weather": testNow.Add(-16 * time.Minute)},
			want:       ReasonWeather,
		},
		{
			name:       "weather interval not due",
			automation: map[string]any{models.AutomationWeatherInterval: 15},
			logged:     map[string]time.Time{"weather": testNow.Add(-5 * time.Minute)},
			want:       ReasonPlaylist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newSelectorTestDB(t)
			addAsset(t, db, "song", models.AssetMusic, "pop")
			addAsset(t, db, "jingle", models.AssetJingle, models.CategoryStationID)
			addAsset(t, db, "clock", models.AssetAnnouncement, models.CategoryTime)
			addAsset(t, db, "weather", models.AssetWeather, "")
			for id, at := range tt.logged {
				logPlay(t, db, id, at)
			}
			station := testStation()
			station.Automation = tt.automation

			sel := NewWithSeed(db, nil, 1, zerolog.Nop())
			s, err := sel.Next(context.Background(), Request{
				Station: station,
				Block:   playlistBlock(models.PlaybackSequential, "song"),
				Now:     testNow,
			})
			if err != nil || s == nil {
				t.Fatalf("Next: %+v, %v", s, err)
			}
			if s.Reason != tt.want {
				t.Fatalf("reason = %s (%s), want %s", s.Reason, s.AssetID, tt.want)
			}
		})
	}
}

func TestInsertionSkippedWithoutAsset(t *testing.T) {
	db := newSelectorTestDB(t)
	station := testStation()
	station.Automation = map[string]any{models.AutomationHourlyJingle: true}
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())

	s, err := sel.Next(context.Background(), Request{
		Station: station,
		Block:   playlistBlock(models.PlaybackSequential, "song"),
		Now:     testNow,
	})
	if err != nil || s == nil || s.Reason != ReasonPlaylist {
		t.Fatalf("expected rotation when no jingle exists, got %+v, %v", s, err)
	}
}

func TestFallbackAssets(t *testing.T) {
	db := newSelectorTestDB(t)
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())
	ctx := context.Background()
	station := testStation()

	if s, err := sel.Emergency(ctx, station); err != nil || s != nil {
		t.Fatalf("expected no emergency asset, got %+v, %v", s, err)
	}

	addAsset(t, db, "j-blocked", models.AssetJingle, models.CategoryDoNotPlay)
	addAsset(t, db, "j-ok", models.AssetJingle, "sweeper")
	s, err := sel.Emergency(ctx, station)
	if err != nil || s == nil || s.AssetID != "j-ok" {
		t.Fatalf("expected jingle fallback, got %+v, %v", s, err)
	}

	addAsset(t, db, "emer", models.AssetMusic, models.CategoryEmergency)
	s, err = sel.Emergency(ctx, station)
	if err != nil || s == nil || s.AssetID != "emer" {
		t.Fatalf("expected emergency asset, got %+v, %v", s, err)
	}

	if s, err := sel.IntroJingle(ctx, station, models.Block{ID: "b1"}); err != nil || s != nil {
		t.Fatalf("expected no intro, got %+v, %v", s, err)
	}
	addAsset(t, db, "intro", models.AssetJingle, models.CategoryIntro)
	addAsset(t, db, "news-intro", models.AssetJingle, "news")
	if s, err := sel.IntroJingle(ctx, station, models.Block{ID: "b1"}); err != nil || s == nil || s.AssetID != "intro" {
		t.Fatalf("expected default intro, got %+v, %v", s, err)
	}
	if s, err := sel.IntroJingle(ctx, station, models.Block{ID: "b1", IntroCategory: "news"}); err != nil || s == nil || s.AssetID != "news-intro" {
		t.Fatalf("expected news intro, got %+v, %v", s, err)
	}

	if a, err := sel.Silence(ctx, station); err != nil || a != nil {
		t.Fatalf("expected no silence asset, got %+v, %v", a, err)
	}
	shared := models.Asset{ID: "a-shared-silence", Type: models.AssetSilence, Duration: 300 * time.Second}
	if err := db.Create(&shared).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	addAsset(t, db, "z-own-silence", models.AssetSilence, models.CategorySilence)
	a, err := sel.Silence(ctx, station)
	if err != nil || a == nil || a.ID != "z-own-silence" {
		t.Fatalf("expected station silence asset, got %+v, %v", a, err)
	}
}

func TestAssetLookup(t *testing.T) {
	db := newSelectorTestDB(t)
	addAsset(t, db, "m1", models.AssetMusic, "pop")
	sel := NewWithSeed(db, nil, 1, zerolog.Nop())
	ctx := context.Background()

	a, err := sel.Asset(ctx, "m1")
	if err != nil || a == nil || a.Duration != time.Minute {
		t.Fatalf("Asset(m1) = %+v, %v", a, err)
	}
	a, err = sel.Asset(ctx, "missing")
	if err != nil || a != nil {
		t.Fatalf("Asset(missing) = %+v, %v", a, err)
	}
}
