package transfer

import (
	"fmt"

	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"github.com/smallbiznis/affiliatepay/internal/transfer/sandbox"
	"github.com/smallbiznis/affiliatepay/internal/transfer/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("transfer.gateway",
	fx.Provide(NewGateway),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

// NewGateway selects the configured transfer provider. The sandbox is refused
// in production.
func NewGateway(p Params) (domain.Gateway, error) {
	switch p.Cfg.Transfer.Provider {
	case domain.ProviderStripe:
		return stripe.NewGateway(p.Cfg.Transfer.StripeSecretKey, p.Log)
	case domain.ProviderSandbox, "":
		if p.Cfg.IsProduction() {
			return nil, fmt.Errorf("transfer provider %q is not allowed in production", domain.ProviderSandbox)
		}
		p.Log.Warn("using sandbox transfer gateway")
		return sandbox.NewGateway(p.Clock), nil
	default:
		return nil, fmt.Errorf("unsupported transfer provider %q", p.Cfg.Transfer.Provider)
	}
}
