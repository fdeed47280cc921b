package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookReporter posts status updates as JSON to a configured endpoint.
// Server errors and network failures are retried a bounded number of
// times; client errors are not, the payload will not get better.
type WebhookReporter struct {
	url      string
	token    string
	client   *http.Client
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// WebhookError carries the response status of a rejected update.
type WebhookError struct {
	StatusCode int
	Message    string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func NewWebhookReporter(url, token string, logger *slog.Logger) *WebhookReporter {
	return &WebhookReporter{
		url:      url,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		delay:    500 * time.Millisecond,
		logger:   logger.With("module", "status"),
	}
}

func (r *WebhookReporter) Report(ctx context.Context, update Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode status update: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}

		err := r.post(ctx, payload)
		if err == nil {
			return nil
		}

		lastErr = err

		// Client errors are final, only server and network errors retry.
		webhookErr := &WebhookError{}
		if errors.As(err, &webhookErr) && webhookErr.StatusCode < http.StatusInternalServerError {
			break
		}

		r.logger.WarnContext(ctx, "Status update failed, retrying",
			"context", update.Context, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("status update for %s failed after %d attempts: %w", update.Context, r.attempts, lastErr)
}

func (r *WebhookReporter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gale-Event", "status")

	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return &WebhookError{StatusCode: resp.StatusCode, Message: string(body)}
}
