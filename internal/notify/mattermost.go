package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"flatnotify/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Formatter turns an expose into message text.
type Formatter interface {
	FormatExpose(e model.Expose) string
}

// Mattermost posts exposes to an incoming webhook.
type Mattermost struct {
	client     HTTPClient
	webhookURL string
	format     Formatter
}

// NewMattermost creates a Mattermost notifier.
func NewMattermost(client HTTPClient, webhookURL string, format Formatter) *Mattermost {
	return &Mattermost{client: client, webhookURL: webhookURL, format: format}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Deliver posts the formatted expose. Any status but 200 is an error.
func (m *Mattermost) Deliver(ctx context.Context, e model.Expose) error {
	body, err := json.Marshal(webhookPayload{Text: m.format.FormatExpose(e)})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mattermost webhook: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
