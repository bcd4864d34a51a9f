package service

import (
	"context"
	"strings"
	"testing"

	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	"github.com/smallbiznis/affiliatepay/internal/affiliate/repository"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/ledgertest"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	referralrepo "github.com/smallbiznis/affiliatepay/internal/referral/repository"
	transferdomain "github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"github.com/smallbiznis/affiliatepay/internal/transfer/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) (affiliatedomain.Service, *ledgertest.Fixtures, *sandbox.Gateway, *ledgertest.AuditRecorder) {
	t.Helper()
	db := ledgertest.OpenDB(t)
	fixtures := ledgertest.NewFixtures(t, db)
	gateway := sandbox.NewGateway(fixtures.Clock)
	audit := &ledgertest.AuditRecorder{}
	svc := NewService(ServiceParam{
		DB:           db,
		Log:          zaptest.NewLogger(t),
		GenID:        fixtures.Node,
		Clock:        fixtures.Clock,
		Repo:         repository.Provide(),
		ReferralRepo: referralrepo.Provide(),
		Gateway:      gateway,
		AuditSvc:     audit,
	})
	return svc, fixtures, gateway, audit
}

func TestCreateGeneratesReferralCode(t *testing.T) {
	svc, _, _, audit := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, affiliatedomain.CreateRequest{Name: "Ada Lovelace", Email: " Ada@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, affiliatedomain.StatusPending, created.Status)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.True(t, strings.HasPrefix(created.ReferralCode, "ada-lovelace-"), created.ReferralCode)

	entry, ok := audit.Find(auditdomain.ActionAffiliateCreate)
	require.True(t, ok)
	assert.Equal(t, "a****@example.com", entry.Metadata["email"])

	_, err = svc.Create(ctx, affiliatedomain.CreateRequest{Name: "Twin", Email: "twin@example.com", ReferralCode: created.ReferralCode})
	assert.ErrorIs(t, err, affiliatedomain.ErrReferralCodeTaken)

	_, err = svc.Create(ctx, affiliatedomain.CreateRequest{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, affiliatedomain.ErrInvalidEmail)

	_, err = svc.Create(ctx, affiliatedomain.CreateRequest{Name: "Bad", Email: "b@example.com", ReferralCode: "Has Spaces"})
	assert.ErrorIs(t, err, affiliatedomain.ErrInvalidReferralCode)
}

func TestActivateAndSuspend(t *testing.T) {
	svc, fx, _, _ := newTestService(t)
	ctx := context.Background()
	affiliate := fx.Affiliate(t, "Status", affiliatedomain.StatusPending)

	active, err := svc.Activate(ctx, affiliate.ID.String())
	require.NoError(t, err)
	assert.Equal(t, affiliatedomain.StatusActive, active.Status)

	listed, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	suspended, err := svc.Suspend(ctx, affiliate.ID.String())
	require.NoError(t, err)
	assert.Equal(t, affiliatedomain.StatusSuspended, suspended.Status)

	_, err = svc.Activate(ctx, "999")
	assert.ErrorIs(t, err, affiliatedomain.ErrNotFound)
}

func TestDeleteRefusesWithReferralsUnlessCascade(t *testing.T) {
	svc, fx, _, _ := newTestService(t)
	ctx := context.Background()
	affiliate := fx.Affiliate(t, "Delete Me", affiliatedomain.StatusActive)
	fx.ReadyAccount(t, affiliate.ID)
	fx.Referral(t, affiliate.ID, 500, referraldomain.StatusPaid)
	require.NoError(t, fx.DB.Create(&payoutdomain.Payout{
		ID:             fx.Node.Generate(),
		AffiliateID:    affiliate.ID,
		Amount:         500,
		Currency:       "usd",
		PaymentMethod:  payoutdomain.PaymentMethodStripeTransfer,
		Status:         payoutdomain.StatusPaid,
		PayoutBatchID:  "BATCH-2025-W02",
		IdempotencyKey: "payout-BATCH-2025-W02-" + affiliate.ID.String(),
		Notes:          "{}",
		CreatedAt:      ledgertest.Now,
		UpdatedAt:      ledgertest.Now,
	}).Error)

	err := svc.Delete(ctx, affiliatedomain.DeleteRequest{ID: affiliate.ID.String()})
	assert.ErrorIs(t, err, affiliatedomain.ErrHasReferrals)
	fx.LoadAffiliate(t, affiliate.ID)

	require.NoError(t, svc.Delete(ctx, affiliatedomain.DeleteRequest{ID: affiliate.ID.String(), Cascade: true}))
	_, err = svc.Get(ctx, affiliate.ID.String())
	assert.ErrorIs(t, err, affiliatedomain.ErrNotFound)
	assert.Empty(t, fx.Payouts(t, affiliate.ID))

	var remaining int64
	require.NoError(t, fx.DB.Model(&referraldomain.Referral{}).Where("affiliate_id = ?", affiliate.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestUpsertAndSyncPayoutAccount(t *testing.T) {
	svc, fx, gateway, audit := newTestService(t)
	ctx := context.Background()
	affiliate := fx.Affiliate(t, "Payee", affiliatedomain.StatusActive)

	account, err := svc.UpsertPayoutAccount(ctx, affiliatedomain.UpsertPayoutAccountRequest{
		AffiliateID:       affiliate.ID.String(),
		ProviderAccountID: "acct_1ABCDEFGH",
		Country:           "us",
		Currency:          "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "stripe", account.Provider)
	assert.Equal(t, "US", account.Country)
	assert.Equal(t, "usd", account.Currency)
	assert.False(t, account.PayoutsEnabled)

	entry, ok := audit.Find(auditdomain.ActionPayoutAccountUpsert)
	require.True(t, ok)
	assert.Equal(t, "acct_****EFGH", entry.Metadata["provider_account_id"])

	gateway.SetAccount(transferdomain.AccountStatus{
		AccountID:        "acct_1ABCDEFGH",
		PayoutsEnabled:   true,
		DetailsSubmitted: true,
		Country:          "US",
		Currency:         "usd",
	})
	synced, err := svc.SyncPayoutAccount(ctx, affiliate.ID.String())
	require.NoError(t, err)
	assert.Equal(t, account.ID, synced.ID)
	assert.True(t, synced.PayoutsEnabled)
	assert.True(t, synced.DetailsSubmitted)
	require.NotNil(t, synced.SyncedAt)

	var count int64
	require.NoError(t, fx.DB.Model(&affiliatedomain.PayoutAccount{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncPayoutAccountUnknownAtGateway(t *testing.T) {
	svc, fx, _, _ := newTestService(t)
	affiliate := fx.Affiliate(t, "Ghost", affiliatedomain.StatusActive)
	fx.ReadyAccount(t, affiliate.ID)

	_, err := svc.SyncPayoutAccount(context.Background(), affiliate.ID.String())
	assert.ErrorIs(t, err, affiliatedomain.ErrPayoutAccountNotFound)
}
