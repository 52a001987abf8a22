package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nhle/onebox/internal/model"
)

// Slack posts to a Slack incoming webhook.
type Slack struct {
	url    string
	client *http.Client
}

// NewSlack creates a notifier for the incoming webhook at url.
func NewSlack(url string) *Slack {
	return &Slack{url: url, client: &http.Client{}}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// Notify posts a summary block for msg.
func (s *Slack) Notify(ctx context.Context, msg model.Message) error {
	field := func(name, value string) slackText {
		return slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", name, value)}
	}

	payload := slackMessage{
		Text: "New Interested Email Received!",
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: "New Interested Email"},
			},
			{
				Type: "section",
				Fields: []slackText{
					field("From", msg.From),
					field("Subject", msg.Subject),
					field("Date", msg.Date.Format(time.RFC1123)),
					field("Account", msg.AccountID),
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Preview:*\n" + preview(msg.Body)},
			},
		},
	}

	if err := postJSON(ctx, s.client, s.url, payload); err != nil {
		return fmt.Errorf("slack notification for %s: %w", msg.ID, err)
	}
	return nil
}
