package observability

import (
	"slices"
	"strings"

	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/spf13/viper"
)

const (
	defaultServiceName   = "affiliatepay"
	defaultSamplingRatio = 0.1
)

var (
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"json", "console"}
	otlpProtocols = []string{"grpc", "http/protobuf", "http"}
)

// Config is the resolved logging, tracing and metrics push setup for one
// ledger process (API or scheduler). The standard OTEL_* variables override
// the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	MetricsPushExporter  string
	MetricsPushEndpoint  string
	MetricsPushAuthToken string
}

func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", defaultSamplingRatio)

	protocol := v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	if traces := strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	ratio := v.GetFloat64("OTEL_SAMPLING_RATIO")
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:              strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:             oneOf(v.GetString("LOG_LEVEL"), logLevels),
		LogFormat:            oneOf(v.GetString("LOG_FORMAT"), logFormats),
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: oneOf(protocol, otlpProtocols),
		OtelSamplingRatio:    ratio,
		MetricsPushExporter:  strings.TrimSpace(cfg.Metrics.Exporter),
		MetricsPushEndpoint:  strings.TrimSpace(cfg.Metrics.Endpoint),
		MetricsPushAuthToken: cfg.Metrics.AuthToken,
	}
}

// Debug turns on development logging and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// PushEnabled reports whether the scheduler pushes batch metrics after a run.
func (c Config) PushEnabled() bool {
	return c.MetricsPushExporter != "" && c.MetricsPushEndpoint != ""
}

// oneOf normalizes value and falls back to the first allowed entry.
func oneOf(value string, allowed []string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if slices.Contains(allowed, value) {
		return value
	}
	return allowed[0]
}
