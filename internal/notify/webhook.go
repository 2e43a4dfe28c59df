// Package notify delivers health alerts to an operator webhook.
//
// The payload is a small JSON document with the alert text, provider,
// and timestamp, optionally signed with HMAC-SHA256 so the receiver
// can verify origin.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yardsight/yardsight/analysis-engine/internal/health"
)

const maxAttempts = 3

// Webhook posts alerts to a fixed URL. Implements health.Notifier.
type Webhook struct {
	url    string
	secret string
	client *http.Client

	sleep func(time.Duration)
}

// NewWebhook builds a webhook notifier. secret may be empty to skip
// request signing.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
		sleep:  time.Sleep,
	}
}

// Notify posts the alert as JSON with bounded retries.
func (w *Webhook) Notify(ctx context.Context, alert health.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			w.sleep(time.Duration(attempt*2) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build alert request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "YardSight-Alerts/1.0")
		req.Header.Set("X-YardSight-Provider", alert.Provider)
		if w.secret != "" {
			mac := hmac.New(sha256.New, []byte(w.secret))
			mac.Write(body)
			req.Header.Set("X-YardSight-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.url)
	}
	return fmt.Errorf("alert webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

var _ health.Notifier = (*Webhook)(nil)
