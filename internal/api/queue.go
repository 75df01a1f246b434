/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
)

type enqueueRequest struct {
	AssetIDs []string `json:"asset_ids"`
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	entries, err := a.queue.Pending(r.Context(), station.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	queued, err := a.queue.QueuedDuration(r.Context(), station.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":        entries,
		"queued_seconds": int64(queued.Seconds()),
	})
}

// handleQueueEnqueue appends operator-chosen assets to the end of the FIFO.
// Every asset must belong to the station or the shared library.
func (a *API) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.AssetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "asset_ids_required")
		return
	}

	var found int64
	err := a.db.WithContext(r.Context()).Model(&models.Asset{}).
		Where("id IN ?", req.AssetIDs).
		Where("(station_id = ? OR station_id = '' OR station_id IS NULL)", station.ID).
		Distinct("id").
		Count(&found).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if int(found) != len(unique(req.AssetIDs)) {
		writeError(w, http.StatusBadRequest, "unknown_asset")
		return
	}

	entries, err := a.queue.Enqueue(r.Context(), station.ID, queue.ReasonManual, req.AssetIDs...)
	if err != nil {
		a.logger.Error().Err(err).Str("station_id", station.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entries": entries})
}

func (a *API) handleQueueSkip(w http.ResponseWriter, r *http.Request) {
	station := stationFrom(r)
	entryID := chi.URLParam(r, "entryID")

	err := a.queue.Skip(r.Context(), station.ID, entryID)
	if errors.Is(err, queue.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "entry_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func unique(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
