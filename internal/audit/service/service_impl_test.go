package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/audit/repository"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	obscontext "github.com/smallbiznis/affiliatepay/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clk clock.Clock) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}), db
}

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, db := newTestService(t, clock.NewFakeClock(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))

	ctx := obscontext.WithActor(context.Background(), "user", "42")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	target := "123"
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionReferralApprove, "referral", &target, map[string]any{"amount": 500}))

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "42", *entry.ActorID)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, db := newTestService(t, &clock.SystemClock{})

	require.NoError(t, svc.AuditLog(context.Background(), "", nil, auditdomain.ActionPayoutBatchRun, "", nil, nil))

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "system", entry.ActorType)
	assert.Equal(t, "unknown", entry.TargetType)
	assert.Nil(t, entry.ActorID)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t, &clock.SystemClock{})
	err := svc.AuditLog(context.Background(), "system", nil, " ", "referral", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, "system", nil, auditdomain.ActionReferralRecord, "referral", nil, nil))
		clk.Advance(time.Minute)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionReferralRecord, Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionReferralRecord, Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationOf("not-a-token", 2)})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t, &clock.SystemClock{})
	start := time.Now()
	end := start.Add(-time.Hour)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
