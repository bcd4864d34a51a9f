package balance

import "go.uber.org/fx"

var Module = fx.Module("balance.aggregate",
	fx.Provide(NewAggregate),
)
