package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// WebhookSender POSTs notifications as JSON. 5xx responses and transport
// errors are retried; 4xx responses are not.
type WebhookSender struct {
	client *resty.Client
	url    string
}

func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &WebhookSender{client: client, url: cfg.URL}
}

func (w *WebhookSender) Deliver(ctx context.Context, n *Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Event", n.Event).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
