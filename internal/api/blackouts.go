/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// handleBlackoutsList returns the unresolved windows covering the station
// that have not ended yet, including the one in progress.
func (a *API) handleBlackoutsList(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	now := a.now().UTC()

	windows, err := a.blackouts.Upcoming(r.Context(), station.ID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var active any
	for i := range windows {
		if windows[i].IsBlackout && windows[i].Contains(now) {
			active = windows[i]
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windows": windows,
		"active":  active,
	})
}

// handleBlackoutResolve releases a window early. The engine leaves the
// blackout on its next cycle.
func (a *API) handleBlackoutResolve(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")

	err := a.blackouts.Resolve(r.Context(), windowID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "window_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.logger.Info().Str("window_id", windowID).Msg("blackout window released")
	writeJSON(w, http.StatusOK, map[string]any{"id": windowID, "resolved": true})
}
