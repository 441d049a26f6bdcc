package mitigate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/core"
)

// AlertPayload is the wire shape delivered to the external endpoint.
type AlertPayload struct {
	Type       string  `json:"type"`
	Severity   string  `json:"severity"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	PID        int     `json:"pid"`
	Timestamp  string  `json:"timestamp"`
}

// WebhookAlerter posts alert payloads to a configured endpoint.
// Fire-and-forget with exactly one retry on failure.
type WebhookAlerter struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookAlerter returns an alerter for url, or nil when url is empty
// (alerting disabled).
func NewWebhookAlerter(url string, timeout time.Duration, logger zerolog.Logger) *WebhookAlerter {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alerter").Logger(),
	}
}

// Send delivers the verdict as an alert payload. The first failure is
// retried once; a second failure is returned to the caller for counting.
func (a *WebhookAlerter) Send(ctx context.Context, v *core.Verdict) error {
	payload := AlertPayload{
		Type:       "malware_detected",
		Severity:   severityFor(v),
		Label:      v.ClassifierLabel,
		Confidence: v.FusedConfidence,
		PID:        v.PID,
		Timestamp:  v.DecidedAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if err := a.post(ctx, body); err != nil {
		a.logger.Warn().Err(err).Int("pid", v.PID).Msg("alert delivery failed, retrying once")
		return a.post(ctx, body)
	}
	return nil
}

func (a *WebhookAlerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// severityFor maps heuristic weight to a coarse severity band.
func severityFor(v *core.Verdict) string {
	switch {
	case v.HeuristicScore > 70:
		return "critical"
	case v.HeuristicScore > 40:
		return "high"
	default:
		return "medium"
	}
}
