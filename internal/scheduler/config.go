package scheduler

import (
	"time"

	"github.com/smallbiznis/affiliatepay/internal/config"
)

// Config controls job schedules and deadlines.
type Config struct {
	Enabled            bool
	PayoutCron         string
	AutoApproveCron    string
	RunStaleAfter      time.Duration
	EnabledJobs        []string
	PayoutTimeout      time.Duration
	AutoApproveTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		PayoutCron:         "0 9 * * 1",
		AutoApproveCron:    "0 2 * * *",
		RunStaleAfter:      2 * time.Hour,
		PayoutTimeout:      30 * time.Minute,
		AutoApproveTimeout: 10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:         cfg.Scheduler.Enabled,
		PayoutCron:      cfg.Scheduler.PayoutCron,
		AutoApproveCron: cfg.Scheduler.AutoApproveCron,
		RunStaleAfter:   cfg.Scheduler.RunStaleAfter,
		EnabledJobs:     cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PayoutCron == "" {
		c.PayoutCron = defaults.PayoutCron
	}
	if c.AutoApproveCron == "" {
		c.AutoApproveCron = defaults.AutoApproveCron
	}
	if c.RunStaleAfter <= 0 {
		c.RunStaleAfter = defaults.RunStaleAfter
	}
	if c.PayoutTimeout <= 0 {
		c.PayoutTimeout = defaults.PayoutTimeout
	}
	if c.AutoApproveTimeout <= 0 {
		c.AutoApproveTimeout = defaults.AutoApproveTimeout
	}
	return c
}
