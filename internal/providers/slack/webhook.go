package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/affiliatepay/internal/observability/tracing"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookProvider posts messages to a Slack incoming webhook.
type WebhookProvider struct {
	url        string
	httpClient *http.Client
}

func NewWebhook(url string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookProvider{
		url:        strings.TrimSpace(url),
		httpClient: obstracing.WrapHTTPClient(client),
	}
}

type webhookPayload struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Color    string `json:"color"`
	Text     string `json:"text"`
	Fallback string `json:"fallback"`
}

func newPayload(msg Message) webhookPayload {
	title := strings.TrimSpace(msg.Title)
	if title == "" {
		return webhookPayload{Channel: strings.TrimSpace(msg.Channel), Text: msg.Text}
	}
	return webhookPayload{
		Channel: strings.TrimSpace(msg.Channel),
		Text:    "*" + title + "*",
		Attachments: []attachment{{
			Color:    msg.color(),
			Text:     msg.Text,
			Fallback: title,
		}},
	}
}

func (p *WebhookProvider) Post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(newPayload(msg))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
