package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	alertdomain "github.com/smallbiznis/affiliatepay/internal/alert/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	obslogger "github.com/smallbiznis/affiliatepay/internal/observability/logger"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/affiliatepay/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/payout/eligibility"
	"github.com/smallbiznis/affiliatepay/internal/providers/pdf"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	transferdomain "github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCurrency = "usd"
	dryRunReason    = "dry run"
	maxAlertErrors  = 100
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	payoutRepo    payoutdomain.Repository
	affiliateRepo affiliatedomain.Repository
	referralRepo  referraldomain.Repository
	evaluator     *eligibility.Evaluator
	balances      balance.Aggregate
	settings      settingsdomain.Provider
	gateway       transferdomain.Gateway
	runs          jobrun.Service
	auditSvc      auditdomain.Service
	alertSvc      alertdomain.Service
	pdf           pdf.Provider
	metrics       *metrics.Metrics
	schedMetrics  *metrics.SchedulerMetrics
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	PayoutRepo    payoutdomain.Repository
	AffiliateRepo affiliatedomain.Repository
	ReferralRepo  referraldomain.Repository
	Evaluator     *eligibility.Evaluator
	Balances      balance.Aggregate
	Settings      settingsdomain.Provider
	Gateway       transferdomain.Gateway
	Runs          jobrun.Service            `optional:"true"`
	AuditSvc      auditdomain.Service       `optional:"true"`
	AlertSvc      alertdomain.Service       `optional:"true"`
	PDF           pdf.Provider              `optional:"true"`
	Metrics       *metrics.Metrics          `optional:"true"`
	SchedMetrics  *metrics.SchedulerMetrics `optional:"true"`
}

func NewService(p ServiceParam) payoutdomain.Service {
	evaluator := p.Evaluator
	if evaluator == nil {
		evaluator = eligibility.NewEvaluator(eligibility.Params{
			AffiliateRepo: p.AffiliateRepo,
			ReferralRepo:  p.ReferralRepo,
		})
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payout.service"),
		genID: p.GenID,
		clock: p.Clock,

		payoutRepo:    p.PayoutRepo,
		affiliateRepo: p.AffiliateRepo,
		referralRepo:  p.ReferralRepo,
		evaluator:     evaluator,
		balances:      p.Balances,
		settings:      p.Settings,
		gateway:       p.Gateway,
		runs:          p.Runs,
		auditSvc:      p.AuditSvc,
		alertSvc:      p.AlertSvc,
		pdf:           p.PDF,
		metrics:       p.Metrics,
		schedMetrics:  p.SchedMetrics,
	}
}

func (s *Service) PreviewBatch(ctx context.Context) (payoutdomain.BatchSummary, error) {
	return s.RunPayoutBatch(ctx, payoutdomain.RunBatchRequest{DryRun: true})
}

// RunPayoutBatch pays every eligible affiliate for the current week. Real
// runs hold the batch run key for their duration; a concurrent trigger for
// the same week fails with jobrun.ErrRunInProgress before touching the ledger.
// The lease is renewed after each affiliate. Affiliates already paid in this
// batch by an earlier run are listed as already_paid.
func (s *Service) RunPayoutBatch(ctx context.Context, req payoutdomain.RunBatchRequest) (summary payoutdomain.BatchSummary, err error) {
	period := payoutdomain.BatchPeriod(s.clock.Now())
	ctx, span := obstracing.StartSpan(ctx, "payout.batch.run",
		attribute.String("batch_id", period.BatchID),
		attribute.Bool("dry_run", req.DryRun),
	)
	defer func() { obstracing.EndSpan(span, err) }()

	log := obslogger.WithBatch(obslogger.WithContext(ctx, s.log), period.BatchID)

	var lease *jobrun.Lease
	if !req.DryRun && s.runs != nil {
		var acquireErr error
		lease, acquireErr = s.runs.Acquire(ctx, payoutdomain.RunKey(period.BatchID), jobrun.AcquireOptions{
			Job:        "affiliate_payout",
			AllowRerun: req.AllowRerun,
		})
		if acquireErr != nil {
			return payoutdomain.BatchSummary{}, acquireErr
		}
		defer func() {
			var finishErr error
			if err != nil {
				finishErr = s.runs.Fail(context.WithoutCancel(ctx), lease, err)
			} else {
				finishErr = s.runs.Complete(context.WithoutCancel(ctx), lease)
			}
			if finishErr != nil {
				log.Warn("failed to finish batch run record", zap.Error(finishErr))
			}
		}()
	}

	log.Info("payout.batch.start", zap.Bool("dry_run", req.DryRun))

	settings, err := s.settings.GetAffiliateSettings(ctx)
	if err != nil {
		return payoutdomain.BatchSummary{}, fmt.Errorf("load affiliate settings: %w", err)
	}
	affiliates, err := s.affiliateRepo.ListByStatus(ctx, s.db, affiliatedomain.StatusActive)
	if err != nil {
		return payoutdomain.BatchSummary{}, fmt.Errorf("load affiliates: %w", err)
	}
	evaluation, err := s.evaluator.Evaluate(ctx, s.db, settings, affiliates)
	if err != nil {
		return payoutdomain.BatchSummary{}, fmt.Errorf("evaluate eligibility: %w", err)
	}

	summary = payoutdomain.BatchSummary{
		BatchID:         period.BatchID,
		PeriodStart:     period.Start,
		PeriodEnd:       period.End,
		DryRun:          req.DryRun,
		EligibleCount:   len(evaluation.Eligible),
		IneligibleCount: len(evaluation.Ineligible),
		Results:         make([]payoutdomain.Result, 0, len(evaluation.Eligible)+len(evaluation.Ineligible)),
	}

	currency := strings.ToLower(strings.TrimSpace(settings.SupportedCurrency))
	if currency == "" {
		currency = defaultCurrency
	}

	var (
		drifts        []driftEvent
		interventions []payoutdomain.Result
		leaseErr      error
	)
	for _, candidate := range evaluation.Eligible {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		var result payoutdomain.Result
		if req.DryRun {
			result = s.previewAffiliate(ctx, period, candidate)
		} else {
			outcome := s.processAffiliate(ctx, period, currency, candidate)
			result = outcome.result
			drifts = append(drifts, outcome.drifts...)
			if outcome.manualIntervention {
				interventions = append(interventions, result)
			}
		}
		summary.Results = append(summary.Results, result)

		if lease != nil {
			if touchErr := s.runs.Touch(ctx, lease); errors.Is(touchErr, jobrun.ErrLeaseLost) {
				leaseErr = touchErr
				log.Error("payout.batch.lease_lost", zap.String("affiliate_id", candidate.Affiliate.ID.String()))
				break
			} else if touchErr != nil {
				log.Warn("failed to renew batch run lease", zap.Error(touchErr))
			}
		}
	}

	seen := make(map[snowflake.ID]bool, len(summary.Results))
	for _, result := range summary.Results {
		seen[result.AffiliateID] = true
	}
	settled, err := s.payoutRepo.ListSettledInBatch(ctx, s.db, period.BatchID)
	if err != nil {
		return summary, fmt.Errorf("load settled payouts: %w", err)
	}
	names := make(map[snowflake.ID]string, len(affiliates))
	for _, affiliate := range affiliates {
		names[affiliate.ID] = affiliate.Name
	}
	for _, paid := range settled {
		if seen[paid.AffiliateID] {
			continue
		}
		seen[paid.AffiliateID] = true
		result := payoutdomain.Result{
			AffiliateID:   paid.AffiliateID,
			AffiliateName: names[paid.AffiliateID],
			PayoutID:      &paid.ID,
			Status:        payoutdomain.ResultAlreadyPaid,
			Amount:        paid.Amount,
		}
		if paid.TransferID != nil {
			result.TransferID = *paid.TransferID
		}
		summary.Results = append(summary.Results, result)
	}

	summary.IneligibleCount = 0
	for _, skipped := range evaluation.Ineligible {
		if seen[skipped.Affiliate.ID] {
			continue
		}
		summary.IneligibleCount++
		summary.Results = append(summary.Results, payoutdomain.Result{
			AffiliateID:   skipped.Affiliate.ID,
			AffiliateName: skipped.Affiliate.Name,
			Status:        payoutdomain.ResultSkipped,
			Amount:        skipped.PendingAmount,
			Reason:        skipped.Reason,
		})
	}

	tally(&summary)

	log.Info("payout.batch.finish",
		zap.Bool("dry_run", req.DryRun),
		zap.Int("eligible", summary.EligibleCount),
		zap.Int("ineligible", summary.IneligibleCount),
		zap.Int("success", summary.SuccessCount),
		zap.Int("failed", summary.FailedCount),
		zap.Int("skipped", summary.SkippedCount),
		zap.Int("already_paid", summary.AlreadyPaidCount),
		zap.Int64("total_paid", summary.TotalPaid),
	)

	if !req.DryRun {
		s.report(ctx, req.ActorID, summary, drifts, interventions)
	}
	return summary, leaseErr
}

func tally(summary *payoutdomain.BatchSummary) {
	for _, result := range summary.Results {
		switch result.Status {
		case payoutdomain.ResultSuccess:
			summary.SuccessCount++
			summary.TotalPaid += result.Amount
		case payoutdomain.ResultFailed:
			summary.FailedCount++
		case payoutdomain.ResultSkipped:
			summary.SkippedCount++
		case payoutdomain.ResultAlreadyPaid:
			summary.AlreadyPaidCount++
		}
	}
}

// Severity escalates once failures exceed half of the attempted payouts.
func Severity(summary payoutdomain.BatchSummary) alertdomain.Severity {
	if summary.FailedCount*2 > summary.Attempted() {
		return alertdomain.SeverityCritical
	}
	return alertdomain.SeverityWarning
}

// report runs after every per-affiliate transaction has committed.
func (s *Service) report(ctx context.Context, actorID string, summary payoutdomain.BatchSummary, drifts []driftEvent, interventions []payoutdomain.Result) {
	resumed := 0
	for _, result := range summary.Results {
		if result.Status == payoutdomain.ResultSuccess && result.Resumed {
			resumed++
		}
		switch result.Status {
		case payoutdomain.ResultSuccess:
			s.metrics.RecordPayout(ctx, payoutdomain.PaymentMethodStripeTransfer, metrics.PayoutResultCompleted, result.Amount)
		case payoutdomain.ResultFailed:
			s.metrics.RecordPayout(ctx, payoutdomain.PaymentMethodStripeTransfer, metrics.PayoutResultFailed, 0)
		}
	}
	s.schedMetrics.AddPayoutResults(metrics.PayoutResultCompleted, summary.SuccessCount)
	s.schedMetrics.AddPayoutResults(metrics.PayoutResultFailed, summary.FailedCount)
	s.schedMetrics.AddPayoutResults(metrics.PayoutResultSkipped, summary.SkippedCount)
	s.schedMetrics.AddPayoutResults(metrics.PayoutResultResumed, resumed)
	s.schedMetrics.AddPayoutAmount(summary.TotalPaid)

	for _, d := range drifts {
		s.raiseDrift(ctx, d)
	}

	for _, result := range interventions {
		s.audit(ctx, actorID, auditdomain.ActionPayoutManualIntervention, "affiliate", result.AffiliateID.String(), map[string]any{
			"batch_id":  summary.BatchID,
			"payout_id": payoutIDString(result.PayoutID),
			"error":     result.Error,
		})
	}

	if summary.Attempted() > 0 {
		s.audit(ctx, actorID, auditdomain.ActionPayoutBatchRun, "payout_batch", summary.BatchID, map[string]any{
			"period_start":  summary.PeriodStart,
			"period_end":    summary.PeriodEnd,
			"eligible":      summary.EligibleCount,
			"ineligible":    summary.IneligibleCount,
			"success":       summary.SuccessCount,
			"failed":        summary.FailedCount,
			"skipped":       summary.SkippedCount,
			"already_paid":  summary.AlreadyPaidCount,
			"total_paid":    summary.TotalPaid,
			"resumed_count": resumed,
		})
	}

	if summary.FailedCount == 0 || s.alertSvc == nil {
		return
	}
	errs := make([]string, 0, summary.FailedCount)
	for _, result := range summary.Results {
		if result.Status != payoutdomain.ResultFailed {
			continue
		}
		if len(errs) == maxAlertErrors {
			break
		}
		errs = append(errs, fmt.Sprintf("%s (%s): %s", result.AffiliateName, result.AffiliateID, result.Error))
	}
	err := s.alertSvc.AlertPayoutBatchError(ctx, alertdomain.PayoutBatchAlert{
		BatchID:      summary.BatchID,
		TotalPayouts: summary.Attempted(),
		FailedCount:  summary.FailedCount,
		TotalAmount:  summary.TotalPaid,
		Errors:       errs,
		Severity:     Severity(summary),
	})
	if err != nil {
		s.log.Warn("failed to raise payout batch alert", zap.String("batch_id", summary.BatchID), zap.Error(err))
	}
}

type driftEvent struct {
	drift    balance.Drift
	batchID  string
	payoutID snowflake.ID
}

func (s *Service) raiseDrift(ctx context.Context, d driftEvent) {
	s.audit(ctx, "", auditdomain.ActionLedgerDriftDetected, "affiliate", d.drift.AffiliateID.String(), map[string]any{
		"field":     d.drift.Field,
		"stored":    d.drift.Stored,
		"decrement": d.drift.Decrement,
		"payout_id": d.payoutID.String(),
		"batch_id":  d.batchID,
	})
	if s.alertSvc == nil {
		return
	}
	err := s.alertSvc.AlertLedgerDrift(ctx, alertdomain.LedgerDriftAlert{
		AffiliateID: d.drift.AffiliateID,
		BatchID:     d.batchID,
		PayoutID:    d.payoutID,
		Field:       d.drift.Field,
		Stored:      d.drift.Stored,
		Decrement:   d.drift.Decrement,
	})
	if err != nil {
		s.log.Warn("failed to raise ledger drift alert", zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, actorID string, action string, targetType string, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var (
		actorType string
		actor     *string
		target    *string
	)
	if trimmed := strings.TrimSpace(actorID); trimmed != "" {
		actorType = string(auditdomain.ActorTypeUser)
		actor = &trimmed
	}
	if targetID != "" {
		target = &targetID
	}
	if err := s.auditSvc.AuditLog(ctx, actorType, actor, action, targetType, target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func payoutIDString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func isManualIntervention(err error) bool {
	return errors.Is(err, payoutdomain.ErrMalformedMetadata) ||
		errors.Is(err, payoutdomain.ErrReferralSetChanged) ||
		errors.Is(err, payoutdomain.ErrPayoutStateChanged)
}
