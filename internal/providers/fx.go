package providers

import (
	"github.com/smallbiznis/affiliatepay/internal/providers/email"
	"github.com/smallbiznis/affiliatepay/internal/providers/pdf"
	"github.com/smallbiznis/affiliatepay/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
	pdf.Module,
)
