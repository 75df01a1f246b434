/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

func withStation(ctx context.Context, station models.Station) context.Context {
	return context.WithValue(ctx, stationKey{}, station)
}

func stationFrom(r *http.Request) models.Station {
	station, _ := r.Context().Value(stationKey{}).(models.Station)
	return station
}

// handleStationsList returns every station with its active flag.
func (a *API) handleStationsList(w http.ResponseWriter, r *http.Request) {
	var stations []models.Station
	if err := a.db.WithContext(r.Context()).Order("name ASC").Find(&stations).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

// handleNowPlaying returns the station's on-air row. A station the engine
// has not touched yet reports playing=false.
func (a *API) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	now := a.now().UTC()

	var state models.NowPlayingState
	err := a.db.WithContext(r.Context()).First(&state, "station_id = ?", station.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"station_id": station.ID,
			"playing":    false,
			"timestamp":  now.Format(time.RFC3339),
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"station_id":  station.ID,
		"playing":     state.Playing(now),
		"now_playing": state,
		"timestamp":   now.Format(time.RFC3339),
	})
}

// handleActiveBlock reports which block the resolver picks at the given
// instant (?at=RFC3339, default now).
func (a *API) handleActiveBlock(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	at := a.now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_at")
			return
		}
		at = parsed.UTC()
	}

	block, err := a.resolver.Resolve(r.Context(), station, at)
	if err != nil {
		a.logger.Error().Err(err).Str("station_id", station.ID).Msg("resolve block failed")
		writeError(w, http.StatusInternalServerError, "resolve_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": station.ID,
		"at":         at.Format(time.RFC3339),
		"block":      block,
	})
}

// handlePlayLog returns the most recent play log rows, newest first.
func (a *API) handlePlayLog(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var entries []models.PlayLogEntry
	err := a.db.WithContext(r.Context()).
		Where("station_id = ?", station.ID).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit})
}

// handleAlertsList returns recent alerts for the station.
func (a *API) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	alerts, err := a.alerts.Recent(r.Context(), station.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// handleStationLogs returns recent in-memory log lines tagged with the
// station, newest first.
func (a *API) handleStationLogs(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	if a.logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []logbuffer.Entry{}})
		return
	}

	q := r.URL.Query()
	query := logbuffer.Query{
		StationID: station.ID,
		Component: q.Get("component"),
		Level:     q.Get("level"),
		Search:    q.Get("search"),
		Limit:     200,
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= logbuffer.DefaultCapacity {
			query.Limit = n
		}
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = since
	}

	entries := a.logs.Find(query)
	if entries == nil {
		entries = []logbuffer.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
