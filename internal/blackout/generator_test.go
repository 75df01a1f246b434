/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package blackout

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/sun"
)

const (
	nycLat = 40.7128
	nycLon = -74.0060
)

func nycStation(t *testing.T) (models.Station, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	lat, lon := nycLat, nycLon
	return models.Station{
		ID:        "station-nyc",
		Timezone:  "America/New_York",
		Latitude:  &lat,
		Longitude: &lon,
		Active:    true,
	}, loc
}

func mustSunset(t *testing.T, date time.Time) time.Time {
	t.Helper()
	s, err := sun.Sunset(nycLat, nycLon, date)
	if err != nil {
		t.Fatalf("sunset: %v", err)
	}
	return s
}

func TestMerge(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }
	win := func(name string, start, end int) models.BlackoutWindow {
		return models.BlackoutWindow{Name: name, StartsAt: at(start), EndsAt: at(end), IsBlackout: true}
	}

	tests := []struct {
		name string
		in   []models.BlackoutWindow
		want []models.BlackoutWindow
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "disjoint stay separate",
			in:   []models.BlackoutWindow{win("B", 20, 30), win("A", 0, 10)},
			want: []models.BlackoutWindow{win("A", 0, 10), win("B", 20, 30)},
		},
		{
			name: "overlapping and touching join",
			in:   []models.BlackoutWindow{win("C", 20, 30), win("A", 0, 10), win("D", 15, 16), win("B", 5, 15)},
			want: []models.BlackoutWindow{win("A / B / D", 0, 16), win("C", 20, 30)},
		},
		{
			name: "contained window keeps outer end",
			in:   []models.BlackoutWindow{win("A", 0, 48), win("B", 2, 4)},
			want: []models.BlackoutWindow{win("A / B", 0, 48)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Merge() = %+v, want %+v", got, tt.want)
			}
			if again := Merge(got); !reflect.DeepEqual(again, got) {
				t.Fatalf("Merge is not idempotent: %+v vs %+v", again, got)
			}
		})
	}
}

func TestGenerateSabbath(t *testing.T) {
	station, loc := nycStation(t)
	friday := time.Date(2024, 6, 14, 12, 0, 0, 0, loc)

	windows, err := NewGenerator().Generate(station, friday.Add(-12*time.Hour), friday.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var shabbat *models.BlackoutWindow
	for i := range windows {
		if windows[i].Name == "Shabbat" {
			shabbat = &windows[i]
		}
	}
	if shabbat == nil {
		t.Fatalf("no Shabbat window in %+v", windows)
	}

	fridaySunset := mustSunset(t, friday)
	saturdaySunset := mustSunset(t, friday.AddDate(0, 0, 1))
	if !shabbat.StartsAt.Before(fridaySunset) {
		t.Fatalf("start %v should precede Friday sunset %v", shabbat.StartsAt, fridaySunset)
	}
	if got := fridaySunset.Sub(shabbat.StartsAt); got != DefaultLeadIn {
		t.Fatalf("lead-in = %v, want %v", got, DefaultLeadIn)
	}
	if got := shabbat.EndsAt.Sub(saturdaySunset); got < 72*time.Minute {
		t.Fatalf("end follows Saturday sunset by %v, want >= 72m", got)
	}
	if shabbat.StartsAt.In(loc).Weekday() != time.Friday || shabbat.EndsAt.In(loc).Weekday() != time.Saturday {
		t.Fatalf("unexpected weekdays %v .. %v", shabbat.StartsAt.In(loc), shabbat.EndsAt.In(loc))
	}
	if !shabbat.Generated || !shabbat.IsBlackout || len(shabbat.StationIDs) != 1 || shabbat.StationIDs[0] != station.ID {
		t.Fatalf("unexpected flags %+v", shabbat)
	}
}

func TestGenerateIncludesInProgressSabbath(t *testing.T) {
	station, loc := nycStation(t)
	saturdayNoon := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)

	windows, err := NewGenerator().Generate(station, saturdayNoon, saturdayNoon.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(windows) != 1 || windows[0].Name != "Shabbat" || !windows[0].Contains(saturdayNoon) {
		t.Fatalf("expected the in-progress Shabbat, got %+v", windows)
	}
}

func TestGenerateHolidayMergesIntoSabbath(t *testing.T) {
	station, loc := nycStation(t)
	from := time.Date(2024, 9, 25, 0, 0, 0, 0, loc)
	to := time.Date(2024, 10, 20, 0, 0, 0, 0, loc)

	windows, err := NewGenerator().Generate(station, from, to)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	merged := Merge(windows)

	// Rosh Hashanah 5785 is Thursday-Friday 2024-10-03/04 and runs into Shabbat.
	var rh *models.BlackoutWindow
	for i := range merged {
		if strings.HasPrefix(merged[i].Name, "Rosh Hashanah") {
			rh = &merged[i]
		}
	}
	if rh == nil {
		t.Fatalf("no Rosh Hashanah window in %+v", merged)
	}
	if rh.Name != "Rosh Hashanah / Shabbat" {
		t.Fatalf("name = %q", rh.Name)
	}
	wantStart := mustSunset(t, time.Date(2024, 10, 2, 12, 0, 0, 0, loc)).Add(-DefaultLeadIn)
	wantEnd := mustSunset(t, time.Date(2024, 10, 5, 12, 0, 0, 0, loc)).Add(DefaultTail)
	if !rh.StartsAt.Equal(wantStart) || !rh.EndsAt.Equal(wantEnd) {
		t.Fatalf("window %v..%v, want %v..%v", rh.StartsAt, rh.EndsAt, wantStart, wantEnd)
	}

	var yk bool
	for _, w := range merged {
		if strings.Contains(w.Name, "Yom Kippur") {
			yk = true
			start := mustSunset(t, time.Date(2024, 10, 11, 12, 0, 0, 0, loc)).Add(-DefaultLeadIn)
			if !w.StartsAt.Equal(start) {
				t.Fatalf("Yom Kippur start %v, want %v", w.StartsAt, start)
			}
		}
	}
	if !yk {
		t.Fatal("expected a Yom Kippur window")
	}

	for i := 1; i < len(merged); i++ {
		if !merged[i].StartsAt.After(merged[i-1].EndsAt) {
			t.Fatalf("merged windows overlap: %+v and %+v", merged[i-1], merged[i])
		}
	}
}

func TestGenerateRequiresLocation(t *testing.T) {
	_, err := NewGenerator().Generate(models.Station{ID: "s"}, time.Now(), time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got %v", err)
	}
}
