package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func TestNewPusherDisabled(t *testing.T) {
	log := zaptest.NewLogger(t)
	assert.Nil(t, NewPusher(PushConfig{}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: "statsd", Endpoint: "localhost:8125"}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: ExporterRemoteWrite, Endpoint: "::bad"}, log))
	assert.NotNil(t, NewPusher(PushConfig{Exporter: ExporterPushgateway, Endpoint: "http://pgw:9091", Job: "affiliatepay-scheduler"}, log))
}

func TestRemoteWritePusherSendsCountersOnly(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSchedulerMetricsForTest(registry)
	m.AddPayoutResults(PayoutResultCompleted, 2)
	m.ObserveJobDuration("affiliate_payout", time.Second)

	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, proto.Unmarshal(decoded, protoadapt.MessageV2Of(&got)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWritePusher(srv.URL, "token")
	require.NoError(t, p.Push(context.Background(), registry))

	names := map[string]bool{}
	for _, ts := range got.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = true
			}
		}
	}
	assert.True(t, names["affiliatepay_payout_results_total"])
	assert.False(t, names["affiliatepay_scheduler_job_duration_seconds"])
}

func TestRemoteWritePusherRejectsNon2xx(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewSchedulerMetricsForTest(registry).AddPayoutAmount(100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	assert.Error(t, err)
}
