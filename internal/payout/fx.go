package payout

import (
	"github.com/smallbiznis/affiliatepay/internal/payout/eligibility"
	"github.com/smallbiznis/affiliatepay/internal/payout/repository"
	"github.com/smallbiznis/affiliatepay/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(eligibility.NewEvaluator),
	fx.Provide(service.NewService),
)
