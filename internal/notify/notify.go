// Package notify delivers alerts about interesting messages to external
// systems.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"github.com/nhle/onebox/internal/model"
)

const (
	requestTimeout = 5 * time.Second
	userAgent      = "OneBox-Email-Aggregator/1.0"

	// previewLimit caps the body excerpt included in notifications, in runes.
	previewLimit = 200
)

// Notifier delivers a notification about msg.
type Notifier interface {
	Notify(ctx context.Context, msg model.Message) error
}

// Multi fans a notification out to every notifier concurrently and joins
// their errors.
type Multi []Notifier

// Notify calls every notifier and waits for all of them.
func (m Multi) Notify(ctx context.Context, msg model.Message) error {
	errs := make([]error, len(m))

	var wg gosync.WaitGroup
	for i, n := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = n.Notify(ctx, msg)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// FromConfig builds the notifiers for every configured URL. It returns
// nil when none are configured.
func FromConfig(cfg model.NotifyConfig) Notifier {
	var m Multi
	if cfg.SlackWebhookURL != "" {
		m = append(m, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhook(cfg.WebhookURL))
	}

	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

// postJSON sends body to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status (%d): %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewLimit {
		return body
	}
	return string(r[:previewLimit]) + "..."
}
