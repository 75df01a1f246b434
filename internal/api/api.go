/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the read-mostly status surface of the playout engine:
// what is on air, the lookahead queue, blackout windows and recent alerts.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/blackout"
	"github.com/friendsincode/grimnir_playout/internal/clock"
	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/notifications"
	"github.com/friendsincode/grimnir_playout/internal/queue"
)

// Deps wires the API to the engine's stores.
type Deps struct {
	Queue     *queue.Store
	Blackouts *blackout.Service
	Alerts    *notifications.Service
	Resolver  *clock.Resolver
	Logs      *logbuffer.Buffer
}

// API holds handler dependencies.
type API struct {
	db        *gorm.DB
	queue     *queue.Store
	blackouts *blackout.Service
	alerts    *notifications.Service
	resolver  *clock.Resolver
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates the API handler set.
func New(db *gorm.DB, deps Deps, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		queue:     deps.Queue,
		blackouts: deps.Blackouts,
		alerts:    deps.Alerts,
		resolver:  deps.Resolver,
		logs:      deps.Logs,
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stations", a.handleStationsList)
		r.Route("/stations/{stationID}", func(r chi.Router) {
			r.Use(a.stationContext)
			r.Get("/now-playing", a.handleNowPlaying)
			r.Get("/block", a.handleActiveBlock)
			r.Get("/play-log", a.handlePlayLog)
			r.Get("/alerts", a.handleAlertsList)
			r.Get("/blackouts", a.handleBlackoutsList)
			r.Get("/logs", a.handleStationLogs)
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", a.handleQueueList)
				r.Post("/", a.handleQueueEnqueue)
				r.Delete("/{entryID}", a.handleQueueSkip)
			})
		})
		r.Post("/blackouts/{windowID}/resolve", a.handleBlackoutResolve)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

type stationKey struct{}

// stationContext loads the station named in the path and 404s unknown ids.
func (a *API) stationContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stationID := chi.URLParam(r, "stationID")
		var station models.Station
		err := a.db.WithContext(r.Context()).First(&station, "id = ?", stationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "station_not_found")
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Str("station_id", stationID).Msg("load station failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		next.ServeHTTP(w, r.WithContext(withStation(r.Context(), station)))
	})
}
