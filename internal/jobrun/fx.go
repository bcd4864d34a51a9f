package jobrun

import "go.uber.org/fx"

var Module = fx.Module("jobrun.service",
	fx.Provide(NewService),
)
