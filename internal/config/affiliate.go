package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AffiliateConfig is the program-wide default set of payout rules.
// Values persisted in affiliate_settings take precedence over these.
type AffiliateConfig struct {
	MinimumPayout     int64  `mapstructure:"minimumPayout"`
	HoldPeriodDays    int    `mapstructure:"holdPeriodDays"`
	SupportedCountry  string `mapstructure:"supportedCountry"`
	SupportedCurrency string `mapstructure:"supportedCurrency"`
}

func DefaultAffiliateConfig() AffiliateConfig {
	return AffiliateConfig{
		MinimumPayout:     5000,
		HoldPeriodDays:    30,
		SupportedCountry:  "US",
		SupportedCurrency: "usd",
	}
}

type AffiliateConfigHolder struct {
	current atomic.Value // holds AffiliateConfig
}

func NewAffiliateConfigHolder() (*AffiliateConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("affiliate")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/affiliatepay/config")
	v.AddConfigPath("/etc/affiliatepay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AFFILIATEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAffiliateConfig()
	v.SetDefault("affiliate.minimumPayout", defaults.MinimumPayout)
	v.SetDefault("affiliate.holdPeriodDays", defaults.HoldPeriodDays)
	v.SetDefault("affiliate.supportedCountry", defaults.SupportedCountry)
	v.SetDefault("affiliate.supportedCurrency", defaults.SupportedCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg AffiliateConfig
	if err := v.UnmarshalKey("affiliate", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeAffiliateConfig(cfg)
	if err := validateAffiliateConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAffiliateConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AffiliateConfig
		if err := v.UnmarshalKey("affiliate", &updated); err != nil {
			log.Printf("[affiliate-config] reload failed: %v", err)
			return
		}
		updated = normalizeAffiliateConfig(updated)
		if err := validateAffiliateConfig(updated); err != nil {
			log.Printf("[affiliate-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[affiliate-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticAffiliateConfigHolder returns a holder that never reloads.
func NewStaticAffiliateConfigHolder(cfg AffiliateConfig) *AffiliateConfigHolder {
	holder := &AffiliateConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *AffiliateConfigHolder) Get() AffiliateConfig {
	if h == nil {
		return DefaultAffiliateConfig()
	}
	cfg, ok := h.current.Load().(AffiliateConfig)
	if !ok {
		return DefaultAffiliateConfig()
	}
	return cfg
}

func normalizeAffiliateConfig(cfg AffiliateConfig) AffiliateConfig {
	cfg.SupportedCountry = strings.ToUpper(strings.TrimSpace(cfg.SupportedCountry))
	cfg.SupportedCurrency = strings.ToLower(strings.TrimSpace(cfg.SupportedCurrency))
	return cfg
}

func validateAffiliateConfig(cfg AffiliateConfig) error {
	if cfg.MinimumPayout < 0 {
		return errors.New("affiliate.minimumPayout cannot be negative")
	}
	if cfg.HoldPeriodDays < 0 {
		return errors.New("affiliate.holdPeriodDays cannot be negative")
	}
	if cfg.SupportedCountry == "" {
		return errors.New("affiliate.supportedCountry cannot be empty")
	}
	if cfg.SupportedCurrency == "" {
		return errors.New("affiliate.supportedCurrency cannot be empty")
	}
	return nil
}
