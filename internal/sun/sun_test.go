/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sun

import (
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func TestEventsOrdering(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		lat  float64
		lon  float64
		date time.Time
	}{
		{"new york summer", 40.7128, -74.0060, time.Date(2024, 6, 21, 12, 0, 0, 0, ny)},
		{"new york winter", 40.7128, -74.0060, time.Date(2024, 12, 21, 12, 0, 0, 0, ny)},
		{"jerusalem spring", 31.7683, 35.2137, time.Date(2024, 3, 22, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, err := Events(tt.lat, tt.lon, tt.date)
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if !day.Dawn.Before(day.Sunrise) || !day.Sunrise.Before(day.Sunset) || !day.Sunset.Before(day.Dusk) {
				t.Fatalf("events out of order: %+v", day)
			}
			if got := day.Sunset.Sub(day.Sunrise); got < 8*time.Hour || got > 16*time.Hour {
				t.Fatalf("day length %v implausible", got)
			}
		})
	}
}

func TestEventsLocalSunsetHour(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	day, err := Events(40.7128, -74.0060, time.Date(2024, 6, 21, 0, 0, 0, 0, ny))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	local := day.Sunset.In(ny)
	if local.Hour() != 20 {
		t.Fatalf("expected NYC midsummer sunset in the 20:00 hour, got %s", local.Format(time.Kitchen))
	}
}

func TestEventsPolarNight(t *testing.T) {
	_, err := Events(78.2232, 15.6267, time.Date(2024, 12, 21, 12, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoEvent) {
		t.Fatalf("expected ErrNoEvent, got %v", err)
	}
}

func TestDayAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day := Day{
		Dawn:    base.Add(6 * time.Hour),
		Sunrise: base.Add(7 * time.Hour),
		Sunset:  base.Add(17 * time.Hour),
		Dusk:    base.Add(18 * time.Hour),
	}
	cases := map[models.SunEvent]time.Time{
		models.SunDawn:    day.Dawn,
		models.SunSunrise: day.Sunrise,
		models.SunSunset:  day.Sunset,
		models.SunDusk:    day.Dusk,
	}
	for ev, want := range cases {
		got, err := day.At(ev)
		if err != nil || !got.Equal(want) {
			t.Fatalf("At(%s) = %v, %v; want %v", ev, got, err, want)
		}
	}
	if _, err := day.At("noon"); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
