// Package notify delivers trade lifecycle events to an external webhook.
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebot/internal/ports"
)

const requestTimeout = 10 * time.Second

// Webhook posts each event as a JSON document to a configured URL.
// Delivery runs in the background; a failed post is logged and dropped so
// the trading loop never waits on a slow endpoint.
type Webhook struct {
	client *resty.Client
	logger ports.Logger
}

type payload struct {
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewWebhook creates a webhook notifier targeting url.
func NewWebhook(url string, logger ports.Logger) *Webhook {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(requestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Webhook{client: client, logger: logger}
}

// Notify posts the event asynchronously.
func (w *Webhook) Notify(ctx context.Context, event string, fields map[string]interface{}) {
	body := payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		resp, err := w.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("")
		if err != nil {
			w.logger.Warn(ctx, "Webhook delivery failed", map[string]interface{}{
				"event": event, "error": err.Error(),
			})
			return
		}
		if resp.IsError() {
			w.logger.Warn(ctx, "Webhook endpoint returned an error", map[string]interface{}{
				"event": event, "status": resp.StatusCode(),
			})
		}
	}()
}
