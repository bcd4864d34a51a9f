package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	obsmetrics "github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAffiliatePayout       = "affiliate_payout"
	JobCommissionAutoApprove = "commission_auto_approve"

	systemActorID = "scheduler"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	PayoutSvc     payoutdomain.Service
	CommissionSvc commissiondomain.Service
	Runs          jobrun.Service
	AuthzSvc      authorization.Service        `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
	Pusher        obsmetrics.Pusher            `optional:"true"`
	Config        Config                       `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	genID         *snowflake.Node
	payoutSvc     payoutdomain.Service
	commissionSvc commissiondomain.Service
	runs          jobrun.Service
	authzSvc      authorization.Service
	metrics       *obsmetrics.SchedulerMetrics
	pusher        obsmetrics.Pusher
	gatherer      prometheus.Gatherer
	cron          gocron.Scheduler
}

type job struct {
	name    string
	cron    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.PayoutSvc == nil || p.CommissionSvc == nil || p.Runs == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		genID:         p.GenID,
		payoutSvc:     p.PayoutSvc,
		commissionSvc: p.CommissionSvc,
		runs:          p.Runs,
		authzSvc:      p.AuthzSvc,
		metrics:       p.Metrics,
		pusher:        p.Pusher,
		gatherer:      prometheus.DefaultGatherer,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobCommissionAutoApprove, cron: s.cfg.AutoApproveCron, timeout: s.cfg.AutoApproveTimeout, run: s.AutoApproveJob},
		{name: JobAffiliatePayout, cron: s.cfg.PayoutCron, timeout: s.cfg.PayoutTimeout, run: s.PayoutJob},
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	defer s.pushMetrics(parent, log)

	if reason, skipped := guard.SkipReason(err); skipped {
		s.metrics.IncJobSkipped(name, reason)
		log.Info("scheduler.job.skipped", zap.String("reason", reason))
		return nil
	}
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		s.metrics.MarkJobSuccess(name, s.clock.Now())
		return nil
	}

	// Deadline overruns are soft: the run key stays failed and the next
	// tick resumes.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) pushMetrics(ctx context.Context, log *zap.Logger) {
	if s.pusher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.pusher.Push(ctx, s.gatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}

// RunOnce runs every enabled job immediately, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, j.timeout, j.run))
	}
	return err
}

// Start registers the enabled jobs on their cron schedules (UTC). Each job
// runs in singleton mode; an overlapping tick is rescheduled, and the run
// key guards against other processes.
func (s *Scheduler) Start() error {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			s.log.Info("scheduler.job.disabled", zap.String("job", j.name))
			continue
		}
		_, err := cron.NewJob(
			gocron.CronJob(j.cron, false),
			gocron.NewTask(func() {
				if err := s.runJob(context.Background(), j.name, j.timeout, j.run); err != nil {
					s.log.Warn("scheduler run failed", zap.Error(err))
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return fmt.Errorf("register job %s: %w", j.name, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", j.name), zap.String("cron", j.cron))
	}
	cron.Start()
	s.cron = cron
	return nil
}

func (s *Scheduler) Stop() error {
	if s.cron == nil {
		return nil
	}
	return s.cron.Shutdown()
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object, action string) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.Actor{ID: systemActorID, Role: authorization.RoleSystem}, object, action)
}

// PayoutJob runs the weekly batch. A batch whose run key already completed
// is skipped; operators re-run it from the admin API.
func (s *Scheduler) PayoutJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAffiliatePayout)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectPayout, authorization.ActionPayoutRun); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobAffiliatePayout, err)
		return err
	}

	summary, err := s.payoutSvc.RunPayoutBatch(ctx, payoutdomain.RunBatchRequest{})
	if err != nil {
		if _, skipped := guard.SkipReason(err); !skipped {
			s.logSchedulerError(ctx, run, "scheduler.payout.failed", JobAffiliatePayout, err)
		}
		return err
	}

	run.AddProcessed(summary.Attempted())
	s.metrics.AddBatchProcessed(JobAffiliatePayout, "affiliate", len(summary.Results))
	for i := 0; i < summary.FailedCount; i++ {
		run.IncError()
	}
	s.logger(ctx).Info("scheduler.payout.batch",
		zap.String("batch_id", summary.BatchID),
		zap.Int("success", summary.SuccessCount),
		zap.Int("failed", summary.FailedCount),
		zap.Int("skipped", summary.SkippedCount),
		zap.Int64("total_paid", summary.TotalPaid),
	)
	return nil
}

// AutoApproveJob approves pending commissions past the hold period, at most
// once per UTC day.
func (s *Scheduler) AutoApproveJob(ctx context.Context) (err error) {
	ctx, run, owner := s.ensureJobRun(ctx, JobCommissionAutoApprove)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectReferral, authorization.ActionReferralAutoApprove); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobCommissionAutoApprove, err)
		return err
	}

	key := guard.DailyKey(JobCommissionAutoApprove, s.clock.Now().UTC().Format("2006-01-02"))
	lease, err := s.runs.Acquire(ctx, key, jobrun.AcquireOptions{
		Job:        JobCommissionAutoApprove,
		StaleAfter: s.cfg.RunStaleAfter,
	})
	if err != nil {
		return err
	}
	defer func() {
		var finishErr error
		if err != nil {
			finishErr = s.runs.Fail(context.WithoutCancel(ctx), lease, err)
		} else {
			finishErr = s.runs.Complete(context.WithoutCancel(ctx), lease)
		}
		if finishErr != nil {
			s.logger(ctx).Warn("failed to finish auto-approve run record", zap.Error(finishErr))
		}
	}()

	result, err := s.commissionSvc.AutoApprove(ctx, commissiondomain.AutoApproveRequest{})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.auto_approve.failed", JobCommissionAutoApprove, err)
		return err
	}
	run.AddProcessed(result.Approved)
	s.metrics.AddBatchProcessed(JobCommissionAutoApprove, "referral", result.Scanned)
	for _, item := range result.Errors {
		s.logSchedulerError(ctx, run, "scheduler.auto_approve.item_failed", JobCommissionAutoApprove, errors.New(item.Error),
			zap.String("referral_id", item.ReferralID),
		)
	}
	return nil
}
