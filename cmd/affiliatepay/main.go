package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/affiliatepay/internal/affiliate"
	"github.com/smallbiznis/affiliatepay/internal/alert"
	"github.com/smallbiznis/affiliatepay/internal/audit"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/commission"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	"github.com/smallbiznis/affiliatepay/internal/migration"
	"github.com/smallbiznis/affiliatepay/internal/observability"
	"github.com/smallbiznis/affiliatepay/internal/payout"
	"github.com/smallbiznis/affiliatepay/internal/providers"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	"github.com/smallbiznis/affiliatepay/internal/referral"
	"github.com/smallbiznis/affiliatepay/internal/scheduler"
	"github.com/smallbiznis/affiliatepay/internal/server"
	"github.com/smallbiznis/affiliatepay/internal/settings"
	"github.com/smallbiznis/affiliatepay/internal/transfer"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.uber.org/fx"
)

// Monolith: admin API and scheduled jobs in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		audit.Module,
		alert.Module,
		authorization.Module,
		settings.Module,
		jobrun.Module,
		transfer.Module,
		referral.Module,
		balance.Module,
		affiliate.Module,
		commission.Module,
		payout.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
