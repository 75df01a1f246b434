/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlayoutCyclesTotal counts completed control loop cycles.
	PlayoutCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_playout_cycles_total",
		Help: "Total number of playout control loop cycles",
	})

	// PlayoutCycleDuration tracks the wall time of one full cycle over all stations.
	PlayoutCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grimnir_playout_cycle_duration_seconds",
		Help:    "Duration of one playout control loop cycle",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// PlayoutErrorsTotal counts per-station failures by stage.
	PlayoutErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_playout_errors_total",
		Help: "Total number of per-station playout errors",
	}, []string{"station_id", "stage"})

	// PlayoutSelectionsTotal counts committed selections by decision source.
	PlayoutSelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_playout_selections_total",
		Help: "Total number of committed now-playing selections",
	}, []string{"station_id", "source"})

	// AlertsRaisedTotal counts persisted alerts.
	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_alerts_raised_total",
		Help: "Total number of alerts raised by type and severity",
	}, []string{"station_id", "type", "severity"})

	// DeadAirEpisodesTotal counts silence episodes that crossed the threshold.
	DeadAirEpisodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_dead_air_episodes_total",
		Help: "Total number of dead air episodes",
	}, []string{"station_id"})

	// BlackoutActive is 1 while a station is inside a blackout window.
	BlackoutActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_blackout_active",
		Help: "Whether the station is currently in a blackout window",
	}, []string{"station_id"})

	// BlackoutWindowsGenerated counts windows persisted by blackout sync.
	BlackoutWindowsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_blackout_windows_generated_total",
		Help: "Total number of generated blackout windows persisted",
	}, []string{"station_id"})

	// QueueDepthSeconds tracks the pending+playing duration of the FIFO.
	QueueDepthSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_queue_depth_seconds",
		Help: "Total queued duration of pending and playing entries",
	}, []string{"station_id"})

	// QueueEntriesAdded counts entries inserted by replenishment.
	QueueEntriesAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_queue_entries_added_total",
		Help: "Total number of queue entries added by replenishment",
	}, []string{"station_id", "reason"})

	// EventsPublishedTotal counts downstream publications by backend and result.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_events_published_total",
		Help: "Total number of events published downstream",
	}, []string{"backend", "result"})

	// DatabaseQueryDuration tracks gorm operation latency per table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_database_query_duration_seconds",
		Help:    "Database operation latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_database_errors_total",
		Help: "Total number of failed database operations",
	}, []string{"operation", "table"})

	// DatabaseConnectionsOpen is the size of the connection pool.
	DatabaseConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_database_connections_open",
		Help: "Open database connections",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_api_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
