package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zaptest"
)

func TestSafeAttributesDropsDestinations(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("batch_id", "BATCH-2024-W03"),
		attribute.String("stripe_account_id", "acct_123"),
		attribute.String("email", "a@example.com"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("batch_id"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	short := errors.New("boom")
	assert.Equal(t, short, SafeError(short))

	long := errors.New(strings.Repeat("x", 1000))
	assert.Len(t, SafeError(long).Error(), maxErrorLength)
}

func TestWrapHTTPClientPropagatesTraceContext(t *testing.T) {
	_, err := NewProvider(nil, Config{ServiceName: "affiliatepay", SamplingRatio: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := WrapHTTPClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, traceparent)
}
