package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Webhook POSTs each event as JSON to a URL with retry and exponential
// backoff. It blocks for the whole retry cycle; wrap it in Async when the
// caller must not wait.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the base backoff, doubled on each retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Send posts ev as JSON. Transport errors, 429 and 5xx answers are retried
// with doubling backoff; other non-2xx answers fail at once. The event ID
// goes out as Idempotency-Key so receivers can discard duplicate deliveries.
func (w *Webhook) Send(ctx context.Context, ev navigation.Event) error {
	body, err := navigation.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	delay := w.backoff
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			delay *= 2
		}

		retry, err := w.post(ctx, ev, body)
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook: delivery attempt failed",
			"attempt", attempt, "action", ev.Action, "page_id", ev.PageID, "error", err)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("webhook: giving up after %d attempts: %w", w.maxRetries+1, lastErr)
}

// post performs one delivery and reports whether a failure is worth retrying.
func (w *Webhook) post(ctx context.Context, ev navigation.Event, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Navwatch-Action", string(ev.Action))
	if ev.ID != "" {
		req.Header.Set("Idempotency-Key", ev.ID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook: post: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: rejected with status %d", resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
