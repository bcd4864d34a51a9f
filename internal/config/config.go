package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Transfer  TransferConfig
	Redis     RedisConfig
	Slack     SlackConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
	Metrics   MetricsPushConfig
	RateLimit RateLimitConfig
}

type TransferConfig struct {
	// Provider selects the transfer gateway: "stripe" or "sandbox".
	Provider        string
	StripeSecretKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
}

type EmailConfig struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	AlertRecipients []string
}

type SchedulerConfig struct {
	Enabled         bool
	PayoutCron      string
	AutoApproveCron string
	RunStaleAfter   time.Duration
	EnabledJobs     []string
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

type RateLimitConfig struct {
	PayoutTriggerRate  float64
	PayoutTriggerBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "affiliatepay"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "affiliatepay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Transfer: TransferConfig{
			Provider:        strings.ToLower(getenv("TRANSFER_PROVIDER", "sandbox")),
			StripeSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			Channel:    getenv("SLACK_ALERT_CHANNEL", "#affiliate-payouts"),
		},
		Email: EmailConfig{
			SMTPHost:        strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:        getenvInt("SMTP_PORT", 587),
			SMTPUsername:    strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword:    getenv("SMTP_PASSWORD", ""),
			SMTPFrom:        getenv("SMTP_FROM", "payouts@localhost"),
			AlertRecipients: parseList(getenv("ALERT_EMAIL_RECIPIENTS", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			PayoutCron:      getenv("SCHEDULER_PAYOUT_CRON", "0 9 * * 1"),
			AutoApproveCron: getenv("SCHEDULER_AUTO_APPROVE_CRON", "0 2 * * *"),
			RunStaleAfter:   time.Duration(getenvInt("SCHEDULER_RUN_STALE_AFTER_MINUTES", 120)) * time.Minute,
			EnabledJobs:     parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
		RateLimit: RateLimitConfig{
			PayoutTriggerRate:  getenvFloat("RATE_LIMIT_PAYOUT_TRIGGER_RATE", 0.05),
			PayoutTriggerBurst: getenvInt("RATE_LIMIT_PAYOUT_TRIGGER_BURST", 3),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
