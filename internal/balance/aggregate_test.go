package balance

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	affiliaterepo "github.com/smallbiznis/affiliatepay/internal/affiliate/repository"
	"github.com/smallbiznis/affiliatepay/internal/ledgertest"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	referralrepo "github.com/smallbiznis/affiliatepay/internal/referral/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestAggregate(t *testing.T) (Aggregate, *ledgertest.Fixtures, *prometheus.Registry) {
	t.Helper()
	db := ledgertest.OpenDB(t)
	fixtures := ledgertest.NewFixtures(t, db)
	registry := prometheus.NewRegistry()
	return NewAggregate(Params{
		DB:            db,
		Log:           zaptest.NewLogger(t),
		Clock:         fixtures.Clock,
		AffiliateRepo: affiliaterepo.Provide(),
		ReferralRepo:  referralrepo.Provide(),
		Metrics:       metrics.NewSchedulerMetricsForTest(registry),
	}), fixtures, registry
}

func TestRecalculateDerivesFromReferrals(t *testing.T) {
	agg, fx, _ := newTestAggregate(t)
	ctx := context.Background()
	affiliate := fx.Affiliate(t, "Derive", affiliatedomain.StatusActive)
	fx.Referral(t, affiliate.ID, 1000, referraldomain.StatusPending)
	fx.Referral(t, affiliate.ID, 300, referraldomain.StatusFlagged)
	fx.Referral(t, affiliate.ID, 2000, referraldomain.StatusApproved)
	fx.Referral(t, affiliate.ID, 999, referraldomain.StatusVoid)

	require.NoError(t, fx.DB.Exec(`UPDATE affiliates SET pending_balance = 1, approved_balance = 1 WHERE id = ?`, affiliate.ID).Error)

	var got Balances
	err := fx.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = agg.Recalculate(ctx, tx, affiliate.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3300), got.Pending)
	assert.Equal(t, int64(2000), got.Approved)

	report, err := agg.Reconcile(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.True(t, report.InSync())
}

func TestApplyPayoutClampsAndReportsDrift(t *testing.T) {
	agg, fx, registry := newTestAggregate(t)
	ctx := context.Background()
	affiliate := fx.Affiliate(t, "Drift", affiliatedomain.StatusActive)
	fx.Referral(t, affiliate.ID, 4000, referraldomain.StatusApproved)
	require.NoError(t, fx.DB.Exec(`UPDATE affiliates SET pending_balance = 1500 WHERE id = ?`, affiliate.ID).Error)

	var (
		got    Balances
		drifts []Drift
	)
	err := fx.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		got, drifts, err = agg.ApplyPayout(ctx, tx, affiliate.ID, 4000)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.Paid)
	assert.Equal(t, int64(0), got.Pending)
	assert.Equal(t, int64(0), got.Approved)

	require.Len(t, drifts, 1)
	assert.Equal(t, FieldPending, drifts[0].Field)
	assert.Equal(t, int64(2500), drifts[0].Shortfall())

	count, err := testutil.GatherAndCount(registry, "affiliatepay_ledger_drift_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyPayoutRejectsNonPositiveAmount(t *testing.T) {
	agg, fx, _ := newTestAggregate(t)
	affiliate := fx.Affiliate(t, "Zero", affiliatedomain.StatusActive)
	_, _, err := agg.ApplyPayout(context.Background(), fx.DB, affiliate.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestReconcileReportsMismatch(t *testing.T) {
	agg, fx, _ := newTestAggregate(t)
	affiliate := fx.Affiliate(t, "Mismatch", affiliatedomain.StatusActive)
	fx.Referral(t, affiliate.ID, 500, referraldomain.StatusApproved)
	require.NoError(t, fx.DB.Exec(`UPDATE affiliates SET paid_balance = 700 WHERE id = ?`, affiliate.ID).Error)

	report, err := agg.Reconcile(context.Background(), affiliate.ID)
	require.NoError(t, err)
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, FieldDiff{Field: FieldPaid, Stored: 700, Derived: 0}, report.Diffs[0])

	_, err = agg.Get(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
}
