// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Webhook defaults.
const (
	DefaultWebhookRetries = 3
	DefaultWebhookBackoff = 200 * time.Millisecond
	maxWebhookBackoff     = 5 * time.Second
)

// ResetPayload is the JSON body posted to the webhook.
type ResetPayload struct {
	Event  string    `json:"event"`
	Email  string    `json:"email"`
	Token  string    `json:"token"`
	SentAt time.Time `json:"sent_at"`
}

// Webhook posts reset instructions to an HTTP endpoint, typically a mail
// relay. Network errors and 5xx responses are retried with exponential
// backoff; 4xx responses fail immediately.
type Webhook struct {
	url     string
	client  *http.Client
	retries uint64
	backoff time.Duration
	now     func() time.Time
}

// WebhookOption configures Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithRetries sets the retry count and base backoff.
func WithRetries(n uint64, base time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.retries = n
		if base > 0 {
			w.backoff = base
		}
	}
}

// NewWebhook creates a Webhook notifier for url.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("webhook url cannot be empty")
	}
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: DefaultWebhookRetries,
		backoff: DefaultWebhookBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SendPasswordReset implements Notifier.
func (w *Webhook) SendPasswordReset(ctx context.Context, email, token string) error {
	body, err := json.Marshal(ResetPayload{
		Event:  "password_reset",
		Email:  email,
		Token:  token,
		SentAt: w.now().UTC(),
	})
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}

	b := retry.WithCappedDuration(maxWebhookBackoff, retry.NewExponential(w.backoff))
	b = retry.WithMaxRetries(w.retries, b)

	//nolint:wrapcheck // retry.Do returns the callback's oops error unchanged
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return oops.Code("NOTIFY_REQUEST_INVALID").With("url", w.url).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return retry.RetryableError(oops.Code("NOTIFY_DELIVERY_FAILED").With("url", w.url).Wrap(err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		_ = resp.Body.Close()                 //nolint:errcheck // body already consumed
	}()

	switch {
	case resp.StatusCode >= 500:
		return retry.RetryableError(oops.Code("NOTIFY_DELIVERY_FAILED").
			With("url", w.url).
			With("status", resp.StatusCode).
			Errorf("webhook returned %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return oops.Code("NOTIFY_REJECTED").
			With("url", w.url).
			With("status", resp.StatusCode).
			Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
