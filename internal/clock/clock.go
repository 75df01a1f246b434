/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock resolves which programming block is on air at an instant.
package clock

import (
	"context"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

const secondsPerDay = 24 * 60 * 60

// BlockResolver finds the active block for a station.
type BlockResolver interface {
	Resolve(ctx context.Context, station models.Station, t time.Time) (*models.Block, error)
}

// window is a block's time-of-day range in seconds since local midnight.
type window struct {
	start int
	end   int
}

// contains reports whether sec falls in the window. Equal bounds cover the
// whole day; start > end wraps past midnight.
func (w window) contains(sec int) bool {
	if w.start == w.end {
		return true
	}
	if w.start < w.end {
		return sec >= w.start && sec < w.end
	}
	return sec >= w.start || sec < w.end
}

// opening reports whether sec falls in the part of the window on the day it
// opens: all of it, or up to midnight when it wraps.
func (w window) opening(sec int) bool {
	if w.start > w.end {
		return sec >= w.start
	}
	return w.contains(sec)
}

// tail reports whether sec falls in the part of a wrapping window after
// midnight, which belongs to the previous day's occurrence.
func (w window) tail(sec int) bool {
	return w.start > w.end && sec < w.end
}

func secondOfDay(t time.Time) int {
	h, m, s := t.Clock()
	return h*3600 + m*60 + s
}

func normalizeSeconds(sec int) int {
	sec %= secondsPerDay
	if sec < 0 {
		sec += secondsPerDay
	}
	return sec
}
