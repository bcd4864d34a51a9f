package main

import (
	"context"
	"flag"
	"os"

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
	"github.com/smallbiznis/affiliatepay/internal/observability"
	"github.com/smallbiznis/affiliatepay/internal/payout"
	"github.com/smallbiznis/affiliatepay/internal/providers"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	"github.com/smallbiznis/affiliatepay/internal/referral"
	"github.com/smallbiznis/affiliatepay/internal/scheduler"
	"github.com/smallbiznis/affiliatepay/internal/settings"
	"github.com/smallbiznis/affiliatepay/internal/transfer"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run every enabled job once and exit")
	flag.Parse()

	options := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Domain services required by scheduler
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

		// No server module!
		scheduler.Module,
	}
	if *once {
		// The cron loop stays off; RunOnce drives the jobs directly.
		_ = os.Setenv("SCHEDULER_ENABLED", "false")
		options = append(options, fx.Invoke(RunOnce))
	}

	fx.New(options...).Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}

// RunOnce drives a single pass for cron-style deployments and exits non-zero
// when a job failed.
func RunOnce(lc fx.Lifecycle, shutdowner fx.Shutdowner, s *scheduler.Scheduler, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := s.RunOnce(context.Background()); err != nil {
					log.Error("scheduler run failed", zap.Error(err))
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
