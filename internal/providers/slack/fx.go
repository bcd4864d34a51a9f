package slack

import (
	"github.com/smallbiznis/affiliatepay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the webhook provider, or Disabled when no URL is set.
func NewFromConfig(cfg config.Config) Provider {
	if cfg.Slack.WebhookURL == "" {
		return Disabled{}
	}
	return NewWebhook(cfg.Slack.WebhookURL, nil)
}
