/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package blackout generates, persists and checks Sabbath and holiday
// blackout windows.
package blackout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/hebcal"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/sun"
)

// ErrNoLocation is returned for stations without coordinates.
var ErrNoLocation = errors.New("blackout: station has no location")

const (
	// DefaultLeadIn is how long before sunset a window opens.
	DefaultLeadIn = 18 * time.Minute
	// DefaultTail is how long after the final sunset a window closes.
	DefaultTail = 72 * time.Minute
)

// holiday is a diaspora observance of Days consecutive Hebrew dates.
type holiday struct {
	Name  string
	Month hebcal.Month
	Day   int
	Days  int
}

var holidays = []holiday{
	{Name: "Rosh Hashanah", Month: hebcal.Tishrei, Day: 1, Days: 2},
	{Name: "Yom Kippur", Month: hebcal.Tishrei, Day: 10, Days: 1},
	{Name: "Sukkot", Month: hebcal.Tishrei, Day: 15, Days: 2},
	{Name: "Shemini Atzeret / Simchat Torah", Month: hebcal.Tishrei, Day: 22, Days: 2},
	{Name: "Pesach", Month: hebcal.Nisan, Day: 15, Days: 2},
	{Name: "Pesach (last days)", Month: hebcal.Nisan, Day: 21, Days: 2},
	{Name: "Shavuot", Month: hebcal.Sivan, Day: 6, Days: 2},
}

// Generator computes blackout windows from sunset times.
type Generator struct {
	LeadIn time.Duration
	Tail   time.Duration
}

// NewGenerator returns a generator with the standard candle-lighting lead-in
// and nightfall tail.
func NewGenerator() Generator {
	return Generator{LeadIn: DefaultLeadIn, Tail: DefaultTail}
}

// Generate returns every Sabbath and holiday window overlapping [from, to)
// for the station, unmerged.
func (g Generator) Generate(station models.Station, from, to time.Time) ([]models.BlackoutWindow, error) {
	if !station.HasLocation() {
		return nil, ErrNoLocation
	}
	loc, err := station.Location()
	if err != nil {
		loc = time.UTC
	}
	lat, lon := *station.Latitude, *station.Longitude

	sunset := func(date time.Time) (time.Time, error) {
		return sun.Sunset(lat, lon, date)
	}

	var windows []models.BlackoutWindow
	add := func(name string, start, end time.Time) {
		if end.After(from) && start.Before(to) {
			windows = append(windows, models.BlackoutWindow{
				Name:       name,
				StartsAt:   start.UTC(),
				EndsAt:     end.UTC(),
				IsBlackout: true,
				StationIDs: []string{station.ID},
				Generated:  true,
			})
		}
	}

	// Start a day early to catch a Sabbath already in progress at from.
	localFrom := from.In(loc)
	day := time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 12, 0, 0, 0, loc).AddDate(0, 0, -1)
	for !day.After(to.In(loc)) {
		if day.Weekday() == time.Friday {
			friday, err := sunset(day)
			if err != nil {
				return nil, fmt.Errorf("sabbath %s: %w", day.Format("2006-01-02"), err)
			}
			saturday, err := sunset(day.AddDate(0, 0, 1))
			if err != nil {
				return nil, fmt.Errorf("sabbath %s: %w", day.Format("2006-01-02"), err)
			}
			add("Shabbat", friday.Add(-g.LeadIn), saturday.Add(g.Tail))
		}
		day = day.AddDate(0, 0, 1)
	}

	for year := hebcal.HebrewYear(from.In(loc)); year <= hebcal.HebrewYear(to.In(loc)); year++ {
		for _, h := range holidays {
			first := hebcal.ToGregorian(year, h.Month, h.Day, loc).Add(12 * time.Hour)
			last := first.AddDate(0, 0, h.Days-1)
			erev := first.AddDate(0, 0, -1)

			start, err := sunset(erev)
			if err != nil {
				return nil, fmt.Errorf("%s %d: %w", h.Name, year, err)
			}
			end, err := sunset(last)
			if err != nil {
				return nil, fmt.Errorf("%s %d: %w", h.Name, year, err)
			}
			add(h.Name, start.Add(-g.LeadIn), end.Add(g.Tail))
		}
	}

	return windows, nil
}

// Merge sorts windows by start and joins overlapping ones, extending the
// end and joining names with " / ". Merging a merged list is a no-op.
func Merge(windows []models.BlackoutWindow) []models.BlackoutWindow {
	if len(windows) == 0 {
		return nil
	}
	sorted := make([]models.BlackoutWindow, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartsAt.Equal(sorted[j].StartsAt) {
			return sorted[i].EndsAt.Before(sorted[j].EndsAt)
		}
		return sorted[i].StartsAt.Before(sorted[j].StartsAt)
	})

	merged := make([]models.BlackoutWindow, 0, len(sorted))
	current := sorted[0]
	names := []string{current.Name}
	for _, next := range sorted[1:] {
		if !next.StartsAt.After(current.EndsAt) {
			if next.EndsAt.After(current.EndsAt) {
				current.EndsAt = next.EndsAt
			}
			names = append(names, next.Name)
			continue
		}
		current.Name = strings.Join(names, " / ")
		merged = append(merged, current)
		current = next
		names = []string{current.Name}
	}
	current.Name = strings.Join(names, " / ")
	return append(merged, current)
}
