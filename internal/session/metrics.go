// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionsCreated counts sessions created.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "warden_sessions_created_total",
		Help: "Total number of sessions created",
	},
)

// SessionsInvalidated counts sessions moved to the invalidated state.
var SessionsInvalidated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warden_sessions_invalidated_total",
		Help: "Total number of sessions invalidated by reason",
	},
	[]string{"reason"},
)

// SessionsPurged counts dead sessions removed by cleanup.
var SessionsPurged = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "warden_sessions_purged_total",
		Help: "Total number of dead sessions garbage-collected",
	},
)

// SweeperLastRun records the Unix time of the last completed cleanup.
var SweeperLastRun = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "warden_sweeper_last_run_timestamp_seconds",
		Help: "Unix timestamp of the last completed session cleanup",
	},
)

// RegisterMetrics registers session package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionsCreated)
	reg.MustRegister(SessionsInvalidated)
	reg.MustRegister(SessionsPurged)
	reg.MustRegister(SweeperLastRun)
}

func recordInvalidated(reason string, n int) {
	if n > 0 {
		SessionsInvalidated.WithLabelValues(reason).Add(float64(n))
	}
}
