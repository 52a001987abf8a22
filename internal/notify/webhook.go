package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nhle/onebox/internal/model"
)

// EventInterested is the event name sent for interested messages.
const EventInterested = "email.interested"

// Webhook posts a JSON event to an arbitrary endpoint.
type Webhook struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhook creates a notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{}, now: time.Now}
}

// WebhookEvent is the request body sent by Webhook.
type WebhookEvent struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      WebhookEmail `json:"data"`
}

// WebhookEmail summarizes the message in a WebhookEvent.
type WebhookEmail struct {
	EmailID   string         `json:"emailId"`
	From      string         `json:"from"`
	Subject   string         `json:"subject"`
	Date      time.Time      `json:"date"`
	AccountID string         `json:"accountId"`
	Category  model.Category `json:"category"`
	Preview   string         `json:"preview"`
}

// Notify posts an EventInterested event for msg.
func (w *Webhook) Notify(ctx context.Context, msg model.Message) error {
	event := WebhookEvent{
		Event:     EventInterested,
		Timestamp: w.now().UTC(),
		Data: WebhookEmail{
			EmailID:   msg.ID,
			From:      msg.From,
			Subject:   msg.Subject,
			Date:      msg.Date,
			AccountID: msg.AccountID,
			Category:  msg.Category,
			Preview:   preview(msg.Body),
		},
	}

	if err := postJSON(ctx, w.client, w.url, event); err != nil {
		return fmt.Errorf("webhook for %s: %w", msg.ID, err)
	}
	return nil
}
