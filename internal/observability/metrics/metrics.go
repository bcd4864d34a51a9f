package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments for the commission ledger.
type Metrics struct {
	commissionsRecorded   metric.Int64Counter
	commissionTransitions metric.Int64Counter
	payoutsRecorded       metric.Int64Counter
	payoutAmount          metric.Int64Counter
	alertsRaised          metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "affiliatepay"
	}
	meter := provider.Meter(name)

	commissionsRecorded, err := meter.Int64Counter("affiliatepay_commissions_recorded_total")
	if err != nil {
		return nil, err
	}
	commissionTransitions, err := meter.Int64Counter("affiliatepay_commission_transitions_total")
	if err != nil {
		return nil, err
	}
	payoutsRecorded, err := meter.Int64Counter("affiliatepay_payouts_total")
	if err != nil {
		return nil, err
	}
	payoutAmount, err := meter.Int64Counter("affiliatepay_payout_amount_cents_total",
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return nil, err
	}
	alertsRaised, err := meter.Int64Counter("affiliatepay_alerts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		commissionsRecorded:   commissionsRecorded,
		commissionTransitions: commissionTransitions,
		payoutsRecorded:       payoutsRecorded,
		payoutAmount:          payoutAmount,
		alertsRaised:          alertsRaised,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordCommission counts a newly recorded referral commission.
func (m *Metrics) RecordCommission(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.commissionsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommissionTransition counts a commission status change.
func (m *Metrics) RecordCommissionTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.commissionTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayout counts a payout outcome and, for completed payouts, the amount moved.
func (m *Metrics) RecordPayout(ctx context.Context, method, status string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.payoutsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if status == "completed" && amount > 0 {
		m.payoutAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordAlert counts alerts raised by severity.
func (m *Metrics) RecordAlert(ctx context.Context, alertType, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("severity", strings.TrimSpace(severity)),
	)
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Affiliate, referral, and payout ids are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":      {},
	"from_status": {},
	"to_status":   {},
	"method":      {},
	"alert_type":  {},
	"severity":    {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
