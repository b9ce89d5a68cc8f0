// Package notify delivers backup failure events to an external sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier receives failure events. Delivery problems are the sink's
// concern; the backup engine logs and moves on.
type Notifier interface {
	NotifyFailure(ctx context.Context, deviceName, message string) error
}

// LogNotifier writes failure events to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

// NotifyFailure logs the failure event.
func (n *LogNotifier) NotifyFailure(_ context.Context, deviceName, message string) error {
	n.logger.Warn().
		Str("device", deviceName).
		Str("error", message).
		Msg("backup failed")
	return nil
}

// WebhookNotifier posts failure events as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier for the given URL.
func NewWebhookNotifier(url string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

type failureEvent struct {
	Event     string    `json:"event"`
	Device    string    `json:"device"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NotifyFailure posts the failure event to the webhook URL.
func (n *WebhookNotifier) NotifyFailure(ctx context.Context, deviceName, message string) error {
	payload, err := json.Marshal(failureEvent{
		Event:     "backup_failed",
		Device:    deviceName,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}

	n.logger.Debug().Str("device", deviceName).Msg("failure notification delivered")
	return nil
}
