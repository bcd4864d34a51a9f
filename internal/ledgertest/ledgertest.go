// Package ledgertest provides an in-memory ledger database and fixtures for
// package tests.
package ledgertest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	alertdomain "github.com/smallbiznis/affiliatepay/internal/alert/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Now is the default fixture time: Monday 2025-01-13 09:00 UTC, inside batch
// BATCH-2025-W03.
var Now = time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)

// OpenDB opens a per-test shared in-memory database with the ledger tables.
func OpenDB(t *testing.T, extra ...any) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	models := []any{
		&affiliatedomain.Affiliate{},
		&affiliatedomain.PayoutAccount{},
		&referraldomain.Referral{},
		&payoutdomain.Payout{},
		&settingsdomain.AffiliateSettingsRecord{},
	}
	require.NoError(t, db.AutoMigrate(append(models, extra...)...))
	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Fixtures inserts ledger rows directly, bypassing services.
type Fixtures struct {
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock *clock.FakeClock
}

func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	t.Helper()
	return &Fixtures{DB: db, Node: NewNode(t), Clock: clock.NewFakeClock(Now)}
}

func (f *Fixtures) Affiliate(t *testing.T, name string, status affiliatedomain.Status) affiliatedomain.Affiliate {
	t.Helper()
	id := f.Node.Generate()
	affiliate := affiliatedomain.Affiliate{
		ID:           id,
		Name:         name,
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		ReferralCode: "ref-" + id.String(),
		Status:       status,
		CreatedAt:    f.Clock.Now(),
		UpdatedAt:    f.Clock.Now(),
	}
	require.NoError(t, f.DB.Create(&affiliate).Error)
	return affiliate
}

// ReadyAccount attaches a payout account that passes every eligibility check.
func (f *Fixtures) ReadyAccount(t *testing.T, affiliateID snowflake.ID) affiliatedomain.PayoutAccount {
	t.Helper()
	return f.Account(t, affiliatedomain.PayoutAccount{
		AffiliateID:       affiliateID,
		Provider:          "stripe",
		ProviderAccountID: "acct_" + affiliateID.String(),
		PayoutsEnabled:    true,
		DetailsSubmitted:  true,
		Country:           "US",
		Currency:          "usd",
	})
}

func (f *Fixtures) Account(t *testing.T, account affiliatedomain.PayoutAccount) affiliatedomain.PayoutAccount {
	t.Helper()
	account.ID = f.Node.Generate()
	account.CreatedAt = f.Clock.Now()
	account.UpdatedAt = f.Clock.Now()
	require.NoError(t, f.DB.Create(&account).Error)
	return account
}

// Referral inserts a referral and keeps the affiliate's derived balances in
// step, the way the state machine would.
func (f *Fixtures) Referral(t *testing.T, affiliateID snowflake.ID, amount int64, status referraldomain.Status) referraldomain.Referral {
	t.Helper()
	now := f.Clock.Now()
	referral := referraldomain.Referral{
		ID:               f.Node.Generate(),
		AffiliateID:      affiliateID,
		OrderID:          "order-" + f.Node.Generate().String(),
		CommissionAmount: amount,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch status {
	case referraldomain.StatusApproved:
		referral.ApprovedAt = &now
	case referraldomain.StatusFlagged:
		reason := referraldomain.FlagReasonCouponAbuse
		referral.FlagReason = &reason
	}
	require.NoError(t, f.DB.Create(&referral).Error)
	f.SyncBalances(t, affiliateID)
	return referral
}

// SyncBalances rewrites pending and approved from the referral rows.
func (f *Fixtures) SyncBalances(t *testing.T, affiliateID snowflake.ID) {
	t.Helper()
	var pending, approved int64
	require.NoError(t, f.DB.Raw(
		`SELECT COALESCE(SUM(commission_amount), 0) FROM affiliate_referrals WHERE affiliate_id = ? AND status IN ?`,
		affiliateID, referraldomain.OwedStatuses,
	).Scan(&pending).Error)
	require.NoError(t, f.DB.Raw(
		`SELECT COALESCE(SUM(commission_amount), 0) FROM affiliate_referrals WHERE affiliate_id = ? AND status = ? AND paid_at IS NULL`,
		affiliateID, referraldomain.StatusApproved,
	).Scan(&approved).Error)
	require.NoError(t, f.DB.Model(&affiliatedomain.Affiliate{}).
		Where("id = ?", affiliateID).
		Updates(map[string]any{"pending_balance": pending, "approved_balance": approved}).Error)
}

// BackdateReferrals shifts created_at back so hold periods elapse.
func (f *Fixtures) BackdateReferrals(t *testing.T, affiliateID snowflake.ID, age time.Duration) {
	t.Helper()
	require.NoError(t, f.DB.Exec(
		`UPDATE affiliate_referrals SET created_at = ? WHERE affiliate_id = ?`,
		f.Clock.Now().Add(-age), affiliateID,
	).Error)
}

func (f *Fixtures) LoadAffiliate(t *testing.T, id snowflake.ID) affiliatedomain.Affiliate {
	t.Helper()
	var affiliate affiliatedomain.Affiliate
	require.NoError(t, f.DB.First(&affiliate, "id = ?", id).Error)
	return affiliate
}

func (f *Fixtures) LoadReferral(t *testing.T, id snowflake.ID) referraldomain.Referral {
	t.Helper()
	var referral referraldomain.Referral
	require.NoError(t, f.DB.First(&referral, "id = ?", id).Error)
	return referral
}

func (f *Fixtures) Payouts(t *testing.T, affiliateID snowflake.ID) []payoutdomain.Payout {
	t.Helper()
	var payouts []payoutdomain.Payout
	require.NoError(t, f.DB.Where("affiliate_id = ?", affiliateID).Order("created_at ASC, id ASC").Find(&payouts).Error)
	return payouts
}

// AuditEntry is one recorded audit call.
type AuditEntry struct {
	ActorType  string
	ActorID    *string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

// AuditRecorder is an in-memory audit sink.
type AuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *AuditRecorder) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, AuditEntry{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
	return nil
}

func (r *AuditRecorder) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (r *AuditRecorder) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.entries...)
}

// Actions lists the recorded actions in order.
func (r *AuditRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

// Find returns the last entry recorded for action.
func (r *AuditRecorder) Find(action string) (AuditEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Action == action {
			return r.entries[i], true
		}
	}
	return AuditEntry{}, false
}

// AlertRecorder is an in-memory alert sink.
type AlertRecorder struct {
	mu     sync.Mutex
	batch  []alertdomain.PayoutBatchAlert
	drifts []alertdomain.LedgerDriftAlert
}

func (r *AlertRecorder) AlertPayoutBatchError(ctx context.Context, alert alertdomain.PayoutBatchAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch = append(r.batch, alert)
	return nil
}

func (r *AlertRecorder) AlertLedgerDrift(ctx context.Context, alert alertdomain.LedgerDriftAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drifts = append(r.drifts, alert)
	return nil
}

func (r *AlertRecorder) List(ctx context.Context, req alertdomain.ListRequest) ([]alertdomain.Alert, error) {
	return nil, nil
}

func (r *AlertRecorder) BatchAlerts() []alertdomain.PayoutBatchAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alertdomain.PayoutBatchAlert(nil), r.batch...)
}

func (r *AlertRecorder) DriftAlerts() []alertdomain.LedgerDriftAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alertdomain.LedgerDriftAlert(nil), r.drifts...)
}
