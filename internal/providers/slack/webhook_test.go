package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPost(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, srv.Client())
	require.NoError(t, p.Post(context.Background(), Message{
		Channel:  " #payouts ",
		Title:    "Payout batch BATCH-2025-W03 failures",
		Text:     "2 of 2 payouts failed",
		Severity: SeverityCritical,
	}))
	assert.Equal(t, "#payouts", got.Channel)
	assert.Equal(t, "*Payout batch BATCH-2025-W03 failures*", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "danger", got.Attachments[0].Color)
	assert.Equal(t, "2 of 2 payouts failed", got.Attachments[0].Text)
	assert.Equal(t, "Payout batch BATCH-2025-W03 failures", got.Attachments[0].Fallback)
}

func TestNewPayloadWithoutTitleIsPlainText(t *testing.T) {
	payload := newPayload(Message{Text: "ledger drift", Severity: SeverityWarning})
	assert.Equal(t, "ledger drift", payload.Text)
	assert.Empty(t, payload.Attachments)

	payload = newPayload(Message{Title: "Ledger drift", Text: "x"})
	assert.Equal(t, "warning", payload.Attachments[0].Color)
}

func TestDisabledProvider(t *testing.T) {
	var p Provider = Disabled{}
	assert.ErrorIs(t, p.Post(context.Background(), Message{Text: "x"}), ErrDisabled)
}

func TestWebhookPostErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, srv.Client()).Post(context.Background(), Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_payload")
}
