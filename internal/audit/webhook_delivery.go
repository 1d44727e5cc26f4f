package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// WebhookSink delivers each audit entry as a JSON POST to a configured URL.
// Intended for tenants that mirror audit events into their own SIEM.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a sink posting to url with the given per-request
// timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSink) Deliver(e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to encode audit entry")
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "webhook delivery failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mcperrors.New(mcperrors.ServiceUnavailable, "webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
