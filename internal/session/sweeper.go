// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/holomush/warden/pkg/errutil"
)

// DefaultCleanupInterval is how often the sweeper purges dead sessions.
const DefaultCleanupInterval = time.Hour

// Sweeper periodically calls Registry.Cleanup in the background.
// Call Close to stop the goroutine.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartSweeper starts a background sweeper. A non-positive interval uses
// DefaultCleanupInterval.
func StartSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	s := &Sweeper{
		registry: registry,
		interval: interval,
		logger:   registry.logger,
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	n, err := s.registry.Cleanup(ctx)
	if err != nil {
		errutil.LogError(s.logger, "session cleanup failed", err, "purged", n)
		return
	}
	SweeperLastRun.SetToCurrentTime()
	if n > 0 {
		s.logger.Info("purged dead sessions", "count", n)
	}
}

// Close stops the sweeper and blocks until its goroutine exits. It is safe
// to call more than once.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
