// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/logging"
	"github.com/holomush/warden/internal/observability"
	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown of the observability server.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session sweeper and the metrics/health server",
		Long: `Run warden in the foreground: connect the configured stores, purge
dead sessions and expired reset tokens on an interval, and expose
/metrics and /healthz until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.SetupLevel("warden", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		errutil.LogError(logger, "startup failed", err)
		return err
	}
	defer a.Close()

	sweeper := session.StartSweeper(a.registry, cfg.Session.CleanupInterval)
	defer sweeper.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeResets(ctx, a.service, cfg.Session.CleanupInterval, logger)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	var serverErrs <-chan error
	if cfg.MetricsAddr != "" {
		opts := append(a.readinessChecks(),
			observability.WithLogger(logger),
			observability.WithRegistration(auth.RegisterMetrics),
			observability.WithRegistration(session.RegisterMetrics),
		)
		srv := observability.NewServer(cfg.MetricsAddr, opts...)
		srv.SetVersion(version)
		if serverErrs, err = srv.Start(); err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				errutil.LogError(logger, "observability shutdown failed", err)
			}
		}()
	}

	logger.Info("warden started",
		"session_store", cfg.SessionStore,
		"cleanup_interval", cfg.Session.CleanupInterval,
		"metrics_addr", cfg.MetricsAddr,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err, ok := <-serverErrs:
		if ok && err != nil {
			return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
		}
		return nil
	}
}

// resetPurger is the part of auth.Service that purgeResets needs.
type resetPurger interface {
	PurgeExpiredResets(ctx context.Context) (int64, error)
}

// purgeResets deletes expired reset tokens every interval until ctx ends.
func purgeResets(ctx context.Context, svc resetPurger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PurgeExpiredResets(ctx); err != nil {
				errutil.LogError(logger, "reset cleanup failed", err)
			}
		}
	}
}
