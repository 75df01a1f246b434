/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hebcal converts between the arithmetic Hebrew calendar and
// Gregorian civil dates. Days are counted as fixed day numbers where
// day 1 is January 1st of year 1 (proleptic Gregorian).
package hebcal

import "time"

// Month numbers follow the biblical ordering: Nisan is 1, Tishrei is 7,
// and the leap-year month Adar II is 13.
type Month int

const (
	Nisan Month = iota + 1
	Iyyar
	Sivan
	Tammuz
	Av
	Elul
	Tishrei
	Heshvan
	Kislev
	Tevet
	Shevat
	Adar
	AdarII
)

const (
	// fixed day of 1 Tishrei AM 1
	epoch = -1373427

	// fixed day of 2000-01-01
	y2kFixed = 730120
)

var y2k = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// IsLeapYear reports whether the Hebrew year has thirteen months.
func IsLeapYear(year int) bool {
	return mod(7*year+1, 19) < 7
}

func lastMonth(year int) Month {
	if IsLeapYear(year) {
		return AdarII
	}
	return Adar
}

// elapsedDays counts days from the epoch to the molad of Tishrei, applying
// the molad zaken and lo ADU postponements.
func elapsedDays(year int) int {
	months := floorDiv(235*year-234, 19)
	parts := 12084 + 13753*months
	days := 29*months + floorDiv(parts, 25920)
	if mod(3*(days+1), 7) < 3 {
		days++
	}
	return days
}

// yearLengthDelay applies the GaTaRaD and BeTUTaKPaT postponements.
func yearLengthDelay(year int) int {
	ny0 := elapsedDays(year - 1)
	ny1 := elapsedDays(year)
	ny2 := elapsedDays(year + 1)
	switch {
	case ny2-ny1 == 356:
		return 2
	case ny1-ny0 == 382:
		return 1
	default:
		return 0
	}
}

func newYear(year int) int {
	return epoch + elapsedDays(year) + yearLengthDelay(year)
}

// DaysInYear returns 353-355 for common years and 383-385 for leap years.
func DaysInYear(year int) int {
	return newYear(year+1) - newYear(year)
}

// DaysInMonth returns 29 or 30.
func DaysInMonth(year int, month Month) int {
	switch {
	case month == Iyyar, month == Tammuz, month == Elul, month == Tevet, month == AdarII:
		return 29
	case month == Adar && !IsLeapYear(year):
		return 29
	case month == Heshvan && DaysInYear(year)%10 != 5:
		return 29
	case month == Kislev && DaysInYear(year)%10 == 3:
		return 29
	default:
		return 30
	}
}

func fixedFromHebrew(year int, month Month, day int) int {
	fixed := newYear(year) + day - 1
	if month < Tishrei {
		for m := Tishrei; m <= lastMonth(year); m++ {
			fixed += DaysInMonth(year, m)
		}
		for m := Nisan; m < month; m++ {
			fixed += DaysInMonth(year, m)
		}
		return fixed
	}
	for m := Tishrei; m < month; m++ {
		fixed += DaysInMonth(year, m)
	}
	return fixed
}

func fixedFromGregorian(date time.Time) int {
	y, m, d := date.Date()
	prev := y - 1
	fixed := 365*prev + floorDiv(prev, 4) - floorDiv(prev, 100) + floorDiv(prev, 400)
	fixed += floorDiv(367*int(m)-362, 12)
	if m > time.February {
		if isGregorianLeap(y) {
			fixed--
		} else {
			fixed -= 2
		}
	}
	return fixed + d
}

func isGregorianLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// ToGregorian returns local midnight in loc of the civil date on which the
// Hebrew date falls. The Hebrew day itself begins at the preceding sunset.
func ToGregorian(year int, month Month, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	g := y2k.AddDate(0, 0, fixedFromHebrew(year, month, day)-y2kFixed)
	return time.Date(g.Year(), g.Month(), g.Day(), 0, 0, 0, 0, loc)
}

// HebrewYear returns the Hebrew year in progress on the civil date of date.
func HebrewYear(date time.Time) int {
	fixed := fixedFromGregorian(date)
	approx := date.Year() + 3761
	if fixed >= newYear(approx) {
		return approx
	}
	return approx - 1
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
