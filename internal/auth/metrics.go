// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login attempt results.
const (
	loginSuccess          = "success"
	loginInvalid          = "invalid_credentials"
	loginInactive         = "inactive"
	loginEmailNotVerified = "email_not_verified"
	loginError            = "error"
)

// LoginAttempts counts login attempts by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warden_login_attempts_total",
		Help: "Total number of login attempts by result",
	},
	[]string{"result"},
)

// RefreshAttempts counts refresh-token exchanges by result.
var RefreshAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warden_refresh_total",
		Help: "Total number of refresh token exchanges by result",
	},
	[]string{"result"},
)

// PasswordResets counts password reset requests and completions by stage.
var PasswordResets = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warden_password_resets_total",
		Help: "Total number of password reset events by stage",
	},
	[]string{"stage"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(RefreshAttempts)
	reg.MustRegister(PasswordResets)
}
