// Package alerting evaluates configured alert rules against rolling metric
// windows, manages the alert event lifecycle, and dispatches escalations.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// Notifier is an outbound notification channel. Dispatch is fire-and-forget:
// failures are logged by the engine, never retried synchronously.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// SlogNotifier writes alert payloads to the structured log. Always wired as
// the channel of last resort.
type SlogNotifier struct {
	Log *slog.Logger
}

func (n *SlogNotifier) Name() string { return "log" }

func (n *SlogNotifier) Notify(_ context.Context, event *models.AlertEvent) error {
	n.Log.Warn("alert event",
		"event_id", event.ID,
		"rule", event.RuleName,
		"severity", string(event.Severity),
		"entity_id", event.EntityID,
		"metric", string(event.Metric),
		"current_value", event.CurrentValue,
		"threshold", event.Threshold,
	)
	return nil
}

// WebhookNotifier POSTs the alert event as JSON to a configured endpoint.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
