package balance

import (
	"context"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	AffiliateRepo affiliatedomain.Repository
	ReferralRepo  referraldomain.Repository
	Metrics       *metrics.SchedulerMetrics `optional:"true"`
}

type aggregate struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	affiliateRepo affiliatedomain.Repository
	referralRepo  referraldomain.Repository
	metrics       *metrics.SchedulerMetrics
}

func NewAggregate(p Params) Aggregate {
	return &aggregate{
		db:            p.DB,
		log:           p.Log.Named("balance.aggregate"),
		clock:         p.Clock,
		affiliateRepo: p.AffiliateRepo,
		referralRepo:  p.ReferralRepo,
		metrics:       p.Metrics,
	}
}

func (a *aggregate) Recalculate(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (Balances, error) {
	affiliate, err := a.affiliateRepo.FindByIDForUpdate(ctx, tx, affiliateID)
	if err != nil {
		return Balances{}, err
	}
	if affiliate == nil {
		return Balances{}, ErrAffiliateNotFound
	}

	totals, err := a.referralRepo.SumByStatus(ctx, tx, affiliateID)
	if err != nil {
		return Balances{}, err
	}

	affiliate.PendingBalance = totals.Owed()
	affiliate.ApprovedBalance = totals.Approved
	affiliate.UpdatedAt = a.clock.Now()
	if err := a.affiliateRepo.UpdateBalances(ctx, tx, affiliate); err != nil {
		return Balances{}, err
	}
	return balancesOf(affiliate), nil
}

func (a *aggregate) ApplyPayout(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, amount int64) (Balances, []Drift, error) {
	if amount <= 0 {
		return Balances{}, nil, ErrInvalidAmount
	}
	affiliate, err := a.affiliateRepo.FindByIDForUpdate(ctx, tx, affiliateID)
	if err != nil {
		return Balances{}, nil, err
	}
	if affiliate == nil {
		return Balances{}, nil, ErrAffiliateNotFound
	}

	var drifts []Drift
	decrement := func(field string, stored int64) int64 {
		if stored >= amount {
			return stored - amount
		}
		drifts = append(drifts, Drift{AffiliateID: affiliateID, Field: field, Stored: stored, Decrement: amount})
		return 0
	}

	affiliate.PaidBalance += amount
	affiliate.PendingBalance = decrement(FieldPending, affiliate.PendingBalance)
	affiliate.ApprovedBalance = decrement(FieldApproved, affiliate.ApprovedBalance)
	affiliate.UpdatedAt = a.clock.Now()
	if err := a.affiliateRepo.UpdateBalances(ctx, tx, affiliate); err != nil {
		return Balances{}, nil, err
	}

	for _, d := range drifts {
		a.log.Warn("ledger.drift",
			zap.String("affiliate_id", affiliateID.String()),
			zap.String("field", d.Field),
			zap.Int64("stored", d.Stored),
			zap.Int64("decrement", d.Decrement),
			zap.Int64("shortfall", d.Shortfall()),
		)
		a.metrics.IncLedgerDrift(d.Field)
	}
	return balancesOf(affiliate), drifts, nil
}

func (a *aggregate) Reconcile(ctx context.Context, affiliateID snowflake.ID) (Report, error) {
	affiliate, err := a.affiliateRepo.FindByID(ctx, a.db, affiliateID)
	if err != nil {
		return Report{}, err
	}
	if affiliate == nil {
		return Report{}, ErrAffiliateNotFound
	}
	totals, err := a.referralRepo.SumByStatus(ctx, a.db, affiliateID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Stored: balancesOf(affiliate),
		Derived: Balances{
			AffiliateID: affiliateID,
			Pending:     totals.Owed(),
			Approved:    totals.Approved,
			Paid:        totals.Paid,
		},
	}
	compare := func(field string, stored, derived int64) {
		if stored != derived {
			report.Diffs = append(report.Diffs, FieldDiff{Field: field, Stored: stored, Derived: derived})
		}
	}
	compare(FieldPending, report.Stored.Pending, report.Derived.Pending)
	compare(FieldApproved, report.Stored.Approved, report.Derived.Approved)
	compare(FieldPaid, report.Stored.Paid, report.Derived.Paid)

	if !report.InSync() {
		a.log.Warn("ledger.reconcile.mismatch",
			zap.String("affiliate_id", affiliateID.String()),
			zap.Any("diffs", report.Diffs),
		)
	}
	return report, nil
}

func (a *aggregate) Get(ctx context.Context, affiliateID snowflake.ID) (Balances, error) {
	affiliate, err := a.affiliateRepo.FindByID(ctx, a.db, affiliateID)
	if err != nil {
		return Balances{}, err
	}
	if affiliate == nil {
		return Balances{}, ErrAffiliateNotFound
	}
	return balancesOf(affiliate), nil
}

func balancesOf(affiliate *affiliatedomain.Affiliate) Balances {
	return Balances{
		AffiliateID: affiliate.ID,
		Pending:     affiliate.PendingBalance,
		Approved:    affiliate.ApprovedBalance,
		Paid:        affiliate.PaidBalance,
	}
}
