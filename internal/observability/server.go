// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves Prometheus metrics and health endpoints.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 2 * time.Second

// Check reports whether one backing dependency is usable.
type Check func(ctx context.Context) error

// Registration adds a package's collectors to the server registry.
// auth.RegisterMetrics and session.RegisterMetrics have this shape.
type Registration func(prometheus.Registerer)

// Metrics contains process-level warden metrics.
type Metrics struct {
	BuildInfo    *prometheus.GaugeVec
	Ready        prometheus.Gauge
	DependencyUp *prometheus.GaugeVec
}

// NewMetrics creates and registers process-level warden metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_build_info",
			Help: "Always 1; labelled with the running version",
		}, []string{"version"}),
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_ready",
			Help: "1 if the last readiness check succeeded, 0 otherwise",
		}),
		DependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_dependency_up",
			Help: "1 if the dependency passed the last readiness check",
		}, []string{"dependency"}),
	}
	reg.MustRegister(m.BuildInfo, m.Ready, m.DependencyUp)
	return m
}

// Option configures a Server.
type Option func(*Server)

// WithCheck adds a named readiness check. Checks run in name order.
func WithCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithRegistration applies reg to the server's private registry.
func WithRegistration(reg Registration) Option {
	return func(s *Server) { reg(s.registry) }
}

// WithCheckTimeout overrides DefaultCheckTimeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) { s.checkTimeout = d }
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server provides /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr         string
	listener     net.Listener
	httpServer   *http.Server
	registry     *prometheus.Registry
	metrics      *Metrics
	checks       map[string]Check
	checkTimeout time.Duration
	logger       *slog.Logger
	running      atomic.Bool
}

// NewServer creates a server listening on addr ("127.0.0.1:9100", or ":0"
// in tests). Metrics live in a private registry.
func NewServer(addr string, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:         addr,
		registry:     registry,
		metrics:      NewMetrics(registry),
		checks:       make(map[string]Check),
		checkTimeout: DefaultCheckTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetVersion publishes the running version as warden_build_info.
func (s *Server) SetVersion(version string) {
	s.metrics.BuildInfo.Reset()
	s.metrics.BuildInfo.WithLabelValues(version).Set(1)
}

// Metrics returns the process-level metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Name string
	Err  error
}

// RunChecks runs every check under its own timeout and records the
// dependency and readiness gauges. It reports whether all checks passed.
func (s *Server) RunChecks(ctx context.Context) ([]CheckResult, bool) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	ready := true
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		err := s.checks[name](checkCtx)
		cancel()

		up := 1.0
		if err != nil {
			up = 0
			ready = false
		}
		s.metrics.DependencyUp.WithLabelValues(name).Set(up)
		results = append(results, CheckResult{Name: name, Err: err})
	}

	if ready {
		s.metrics.Ready.Set(1)
	} else {
		s.metrics.Ready.Set(0)
	}
	return results, ready
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness answers 200 "ok" when every check passes. Otherwise it
// answers 503 with one line per failing dependency.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	results, ready := s.RunChecks(r.Context())
	if ready {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	var b strings.Builder
	b.WriteString("not ready\n")
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(&b, "%s: %v\n", res.Name, res.Err)
		}
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte(b.String()))
}
