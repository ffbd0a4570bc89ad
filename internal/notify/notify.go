// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers password-reset instructions to principals.
//
// Delivery is outside the credential core: auth.Service hands the email
// address and raw reset token to a Notifier and never waits on the result.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/holomush/warden/pkg/errutil"
)

// Notifier sends password-reset instructions.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, email, token string) error

// SendPasswordReset calls f.
func (f NotifierFunc) SendPasswordReset(ctx context.Context, email, token string) error {
	return f(ctx, email, token)
}

// Writer prints reset instructions to an io.Writer. It is meant for local
// development where no mail relay exists.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer notifier.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// SendPasswordReset implements Notifier.
func (n *Writer) SendPasswordReset(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "password reset requested for %s: token=%s\n", email, token)
	return err //nolint:wrapcheck // io errors are reported as-is
}

// DefaultAsyncTimeout bounds a single background delivery.
const DefaultAsyncTimeout = 30 * time.Second

// Async runs a Notifier in the background. SendPasswordReset always returns
// nil immediately; delivery failures are logged. Call Close to wait for
// in-flight deliveries during shutdown.
type Async struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// AsyncOption configures Async.
type AsyncOption func(*Async)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = l }
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAsync wraps next so callers never block on delivery.
func NewAsync(next Notifier, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		logger:  slog.Default(),
		timeout: DefaultAsyncTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SendPasswordReset implements Notifier. The caller's context only carries
// values into the delivery; its cancellation does not abort it.
func (a *Async) SendPasswordReset(ctx context.Context, email, token string) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.SendPasswordReset(deliverCtx, email, token); err != nil {
			errutil.LogErrorContext(deliverCtx, a.logger, "password reset notification failed", err, "email", email)
		}
	}()
	return nil
}

// Close waits for in-flight deliveries.
func (a *Async) Close() {
	a.wg.Wait()
}
