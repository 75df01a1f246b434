/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/sun"
)

func newResolverTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "clock.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Station{}, &models.Schedule{}, &models.Block{}, &models.PlaylistEntry{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func fixed(minute int) models.Boundary { return models.Boundary{Minute: minute} }

func createSchedule(t *testing.T, db *gorm.DB, id string, priority int, blocks ...models.Block) {
	t.Helper()
	s := models.Schedule{ID: id, StationID: "s1", Name: id, Active: true, Priority: priority, Blocks: blocks}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create schedule: %v", err)
	}
}

func utcStation() models.Station {
	return models.Station{ID: "s1", Name: "Test", Timezone: "UTC", Active: true}
}

func TestWindowContains(t *testing.T) {
	tests := []struct {
		name string
		w    window
		sec  int
		want bool
	}{
		{name: "inside", w: window{start: 3600, end: 7200}, sec: 3600, want: true},
		{name: "end exclusive", w: window{start: 3600, end: 7200}, sec: 7200, want: false},
		{name: "before", w: window{start: 3600, end: 7200}, sec: 10, want: false},
		{name: "wrap late", w: window{start: 22 * 3600, end: 2 * 3600}, sec: 23 * 3600, want: true},
		{name: "wrap early", w: window{start: 22 * 3600, end: 2 * 3600}, sec: 3600, want: true},
		{name: "wrap gap", w: window{start: 22 * 3600, end: 2 * 3600}, sec: 12 * 3600, want: false},
		{name: "equal bounds all day", w: window{start: 600, end: 600}, sec: 5, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.contains(tt.sec); got != tt.want {
				t.Fatalf("contains(%d) = %v, want %v", tt.sec, got, tt.want)
			}
		})
	}
}

func TestResolveFixedAndWrappingWindows(t *testing.T) {
	db := newResolverTestDB(t)
	createSchedule(t, db, "sched-a", 0,
		models.Block{ID: "morning", Name: "Morning", Start: fixed(6 * 60), End: fixed(10 * 60)},
		models.Block{ID: "overnight", Name: "Overnight", Start: fixed(22 * 60), End: fixed(2 * 60)},
	)
	r := NewResolver(db, zerolog.Nop())
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Time
		want string
	}{
		{at: day.Add(6 * time.Hour), want: "morning"},
		{at: day.Add(9*time.Hour + 59*time.Minute), want: "morning"},
		{at: day.Add(10 * time.Hour), want: ""},
		{at: day.Add(23 * time.Hour), want: "overnight"},
		{at: day.Add(90 * time.Minute), want: "overnight"},
		{at: day.Add(15 * time.Hour), want: ""},
	}
	for _, tt := range tests {
		block, err := r.Resolve(ctx, utcStation(), tt.at)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", tt.at, err)
		}
		got := ""
		if block != nil {
			got = block.ID
		}
		if got != tt.want {
			t.Fatalf("Resolve(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestResolveOvernightBlockBelongsToOpeningDay(t *testing.T) {
	db := newResolverTestDB(t)
	createSchedule(t, db, "sched-a", 0,
		models.Block{ID: "friday-late", Start: fixed(22 * 60), End: fixed(2 * 60), RecurrenceKind: models.RecurrenceWeekly,
			RecurrenceDays: []int{int(time.Friday)}},
	)
	r := NewResolver(db, zerolog.Nop())
	ctx := context.Background()
	friday := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "friday evening", at: friday.Add(23 * time.Hour), want: "friday-late"},
		{name: "saturday after midnight", at: friday.Add(25 * time.Hour), want: "friday-late"},
		{name: "saturday at end", at: friday.Add(26 * time.Hour), want: ""},
		{name: "friday after midnight", at: friday.Add(time.Hour), want: ""},
		{name: "saturday evening", at: friday.Add(47 * time.Hour), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := r.Resolve(ctx, utcStation(), tt.at)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			got := ""
			if block != nil {
				got = block.ID
			}
			if got != tt.want {
				t.Fatalf("Resolve(%v) = %q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestResolveRecurrence(t *testing.T) {
	db := newResolverTestDB(t)
	from := time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC)
	createSchedule(t, db, "sched-a", 0,
		models.Block{ID: "weekend", Start: fixed(0), End: fixed(0), RecurrenceKind: models.RecurrenceWeekly,
			RecurrenceDays: []int{int(time.Saturday), int(time.Sunday)}},
		models.Block{ID: "first", Start: fixed(0), End: fixed(0), RecurrenceKind: models.RecurrenceMonthly,
			RecurrenceDays: []int{1}},
		models.Block{ID: "holiday", Start: fixed(0), End: fixed(0), RecurrenceKind: models.RecurrenceOneTime,
			StartDate: &from, EndDate: &to},
	)
	r := NewResolver(db, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "saturday", at: time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC), want: "weekend"},
		{name: "first of month", at: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), want: "first"},
		{name: "range start", at: time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC), want: "holiday"},
		{name: "range end inclusive", at: time.Date(2024, 12, 26, 23, 59, 0, 0, time.UTC), want: "holiday"},
		{name: "after range", at: time.Date(2024, 12, 27, 12, 0, 0, 0, time.UTC), want: ""},
		{name: "plain weekday", at: time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := r.Resolve(ctx, utcStation(), tt.at)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			got := ""
			if block != nil {
				got = block.ID
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePriorityAndTies(t *testing.T) {
	db := newResolverTestDB(t)
	allDay := func(id string, priority int) models.Block {
		return models.Block{ID: id, Start: fixed(0), End: fixed(0), Priority: priority}
	}
	createSchedule(t, db, "sched-b", 0, allDay("b-low", 1), allDay("b-high", 5))
	createSchedule(t, db, "sched-a", 0, allDay("a-high", 5))
	r := NewResolver(db, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		block, err := r.Resolve(ctx, utcStation(), at)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if block == nil || block.ID != "a-high" {
			t.Fatalf("expected a-high by schedule id tie-break, got %+v", block)
		}
	}

	createSchedule(t, db, "sched-z", 10, allDay("z-low", 0))
	block, err := r.Resolve(ctx, utcStation(), at)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if block == nil || block.ID != "z-low" {
		t.Fatalf("schedule priority should dominate block priority, got %+v", block)
	}
}

func TestResolveSkipsInactiveAndInvalid(t *testing.T) {
	db := newResolverTestDB(t)
	createSchedule(t, db, "sched-a", 0,
		models.Block{ID: "bad", Start: fixed(0), End: fixed(0), RecurrenceKind: "fortnightly"},
	)
	inactive := models.Schedule{ID: "sched-off", StationID: "s1", Active: true, Priority: 99,
		Blocks: []models.Block{{ID: "off", Start: fixed(0), End: fixed(0)}}}
	if err := db.Create(&inactive).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Model(&inactive).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	r := NewResolver(db, zerolog.Nop())
	block, err := r.Resolve(context.Background(), utcStation(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if block != nil {
		t.Fatalf("expected no block, got %+v", block)
	}
}

func TestResolveUsesStationTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	db := newResolverTestDB(t)
	createSchedule(t, db, "sched-a", 0, models.Block{ID: "drive", Start: fixed(7 * 60), End: fixed(9 * 60)})
	station := utcStation()
	station.Timezone = "America/New_York"

	r := NewResolver(db, zerolog.Nop())
	block, err := r.Resolve(context.Background(), station, time.Date(2024, 5, 1, 8, 0, 0, 0, loc).UTC())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if block == nil || block.ID != "drive" {
		t.Fatalf("expected drive at 08:00 local, got %+v", block)
	}
}

func TestResolveSunRelativeBlock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	db := newResolverTestDB(t)
	createSchedule(t, db, "sched-a", 0, models.Block{
		ID:    "evening",
		Start: models.Boundary{SunEvent: models.SunSunset, OffsetMinutes: -30},
		End:   fixed(23 * 60),
	})

	lat, lon := 40.7128, -74.0060
	station := models.Station{ID: "s1", Timezone: "America/New_York", Latitude: &lat, Longitude: &lon, Active: true}
	day := time.Date(2024, 6, 14, 12, 0, 0, 0, loc)
	sunset, err := sun.Sunset(lat, lon, day)
	if err != nil {
		t.Fatalf("sunset: %v", err)
	}

	r := NewResolver(db, zerolog.Nop())
	ctx := context.Background()

	block, err := r.Resolve(ctx, station, sunset.Add(-20*time.Minute))
	if err != nil || block == nil || block.ID != "evening" {
		t.Fatalf("expected evening 20m before sunset, got %+v, %v", block, err)
	}
	block, err = r.Resolve(ctx, station, sunset.Add(-40*time.Minute))
	if err != nil || block != nil {
		t.Fatalf("expected nothing 40m before sunset, got %+v, %v", block, err)
	}

	station.Latitude, station.Longitude = nil, nil
	block, err = r.Resolve(ctx, station, sunset)
	if err != nil || block != nil {
		t.Fatalf("sun block without location must not match, got %+v, %v", block, err)
	}
}

func TestResolveStationNotFound(t *testing.T) {
	db := newResolverTestDB(t)
	r := NewResolver(db, zerolog.Nop())
	_, err := r.ResolveStation(context.Background(), "missing", time.Now())
	if !errors.Is(err, ErrStationNotFound) {
		t.Fatalf("expected ErrStationNotFound, got %v", err)
	}
}
