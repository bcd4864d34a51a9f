package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("status", "completed"),
		attribute.String("affiliate_id", "456"),
		attribute.String("method", "stripe"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "affiliate_id" {
			t.Fatalf("expected affiliate_id to be dropped")
		}
	}
}

func TestRecordPayoutCountsAmountOnlyWhenCompleted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "affiliatepay"}, provider)
	assert.NoError(t, err)

	ctx := context.Background()
	m.RecordPayout(ctx, "stripe", "completed", 5500)
	m.RecordPayout(ctx, "stripe", "failed", 4000)

	var rm metricdata.ResourceMetrics
	assert.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "affiliatepay_payout_amount_cents_total" {
				continue
			}
			sum := md.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(5500), total)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCommission(context.Background(), "pending")
	m.RecordPayout(context.Background(), "stripe", "completed", 1)
	assert.NotNil(t, NewNoop())
}
