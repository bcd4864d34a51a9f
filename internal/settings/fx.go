package settings

import (
	"github.com/smallbiznis/affiliatepay/internal/cache"
	"github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("settings",
	fx.Provide(cache.NewTTLCache[string, domain.AffiliateSettings]),
	fx.Provide(NewProvider),
)
