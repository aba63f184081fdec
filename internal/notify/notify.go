// Package notify posts a JSON summary of a finished training run to a webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	"prisml-train/internal/common"

	"github.com/go-resty/resty/v2"
)

// Webhook posts payloads to a single URL.
type Webhook struct {
	url  string
	rest *resty.Client
}

// New returns a webhook client for url. A non-positive timeout falls back to
// the default.
func New(url string, timeout time.Duration) *Webhook {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(common.DefaultNotifyTimeout)
	}
	r.SetHeader("User-Agent", common.ProducerName+"/"+common.ProducerVersion)
	return &Webhook{url: url, rest: r}
}

// Send posts payload as JSON. Any non-2xx response is an error.
func (w *Webhook) Send(ctx context.Context, payload any) error {
	resp, err := w.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("notify failed: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
