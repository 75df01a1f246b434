/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sun computes solar events for sun-relative schedule boundaries
// and blackout windows.
package sun

import (
	"errors"
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrNoEvent is returned when the sun does not cross the required elevation
// on the requested date (polar day or night).
var ErrNoEvent = errors.New("sun: no event on this date")

// civilTwilight is the solar elevation of civil dawn and dusk.
const civilTwilight = -6.0

// Day holds the solar events of one civil date, in UTC.
type Day struct {
	Dawn    time.Time
	Sunrise time.Time
	Sunset  time.Time
	Dusk    time.Time
}

// Events computes the solar events for the civil date of date.
func Events(lat, lon float64, date time.Time) (Day, error) {
	y, m, d := date.Date()
	rise, set := sunrise.SunriseSunset(lat, lon, y, m, d)
	if rise.IsZero() || set.IsZero() {
		return Day{}, fmt.Errorf("%04d-%02d-%02d at %.4f,%.4f: %w", y, m, d, lat, lon, ErrNoEvent)
	}
	dawn, dusk := sunrise.TimeOfElevation(lat, lon, civilTwilight, y, m, d)
	if dawn.IsZero() || dusk.IsZero() {
		return Day{}, fmt.Errorf("%04d-%02d-%02d at %.4f,%.4f twilight: %w", y, m, d, lat, lon, ErrNoEvent)
	}
	return Day{Dawn: dawn, Sunrise: rise, Sunset: set, Dusk: dusk}, nil
}

// At returns the instant of the named event.
func (d Day) At(event models.SunEvent) (time.Time, error) {
	switch event {
	case models.SunSunrise:
		return d.Sunrise, nil
	case models.SunSunset:
		return d.Sunset, nil
	case models.SunDawn:
		return d.Dawn, nil
	case models.SunDusk:
		return d.Dusk, nil
	default:
		return time.Time{}, fmt.Errorf("sun: unknown event %q", event)
	}
}

// Sunset returns the sunset instant for the civil date of date.
func Sunset(lat, lon float64, date time.Time) (time.Time, error) {
	y, m, d := date.Date()
	_, set := sunrise.SunriseSunset(lat, lon, y, m, d)
	if set.IsZero() {
		return time.Time{}, fmt.Errorf("%04d-%02d-%02d sunset at %.4f,%.4f: %w", y, m, d, lat, lon, ErrNoEvent)
	}
	return set, nil
}
