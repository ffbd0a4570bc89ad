// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/warden/internal/notify"
)

func TestWriter_SendPasswordReset(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewWriter(&buf)

	require.NoError(t, n.SendPasswordReset(context.Background(), "ada@example.com", "abc123"))
	assert.Contains(t, buf.String(), "ada@example.com")
	assert.Contains(t, buf.String(), "abc123")
}

func TestAsync_ReturnsImmediatelyAndDelivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []string
	)
	slow := notify.NotifierFunc(func(_ context.Context, email, _ string) error {
		<-release
		mu.Lock()
		got = append(got, email)
		mu.Unlock()
		return nil
	})

	async := notify.NewAsync(slow)
	require.NoError(t, async.SendPasswordReset(context.Background(), "ada@example.com", "t"))

	mu.Lock()
	assert.Empty(t, got, "delivery must not block the caller")
	mu.Unlock()

	close(release)
	async.Close()
	assert.Equal(t, []string{"ada@example.com"}, got)
}

func TestAsync_LogsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	failing := notify.NotifierFunc(func(context.Context, string, string) error {
		return errors.New("relay down")
	})

	async := notify.NewAsync(failing, notify.WithLogger(logger))
	require.NoError(t, async.SendPasswordReset(context.Background(), "ada@example.com", "t"))
	async.Close()

	assert.Contains(t, buf.String(), "password reset notification failed")
	assert.Contains(t, buf.String(), "relay down")
}

func TestAsync_IgnoresCallerCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	var deliveredErr error
	done := make(chan struct{})
	n := notify.NotifierFunc(func(ctx context.Context, _, _ string) error {
		defer close(done)
		<-time.After(10 * time.Millisecond)
		deliveredErr = ctx.Err()
		return nil
	})

	async := notify.NewAsync(n, notify.WithTimeout(time.Second))
	require.NoError(t, async.SendPasswordReset(ctx, "ada@example.com", "t"))
	cancel()
	<-done
	async.Close()

	assert.NoError(t, deliveredErr)
}

func TestNotifierFunc(t *testing.T) {
	var called bool
	f := notify.NotifierFunc(func(_ context.Context, email, token string) error {
		called = strings.HasPrefix(email, "a") && token == "x"
		return nil
	})
	require.NoError(t, f.SendPasswordReset(context.Background(), "ada@example.com", "x"))
	assert.True(t, called)
}
