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

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotbook_api_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotbook_api_active_connections",
			Help: "In-flight HTTP requests.",
		},
	)

	EventStreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotbook_event_stream_clients",
			Help: "Connected websocket event stream clients.",
		},
	)
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotbook_database_query_duration_seconds",
			Help:    "Database operation latency by operation and table.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_database_errors_total",
			Help: "Database operation errors by operation and kind.",
		},
		[]string{"operation", "kind"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotbook_database_connections_active",
			Help: "Open database connections.",
		},
	)
)

// Booking metrics
var (
	// BookingOutcomesTotal counts create attempts by result code. Accepted
	// bookings are recorded as "OK".
	BookingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_booking_outcomes_total",
			Help: "Booking requests by outcome code.",
		},
		[]string{"code"},
	)

	ReservationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_reservation_transitions_total",
			Help: "Applied reservation transitions by action and target status.",
		},
		[]string{"action", "to"},
	)

	NotificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_notification_failures_total",
			Help: "Failed notification deliveries by sink.",
		},
		[]string{"sink"},
	)

	PolicyCacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_policy_cache_results_total",
			Help: "Policy cache lookups by result (hit, miss, bypass).",
		},
		[]string{"result"},
	)
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
