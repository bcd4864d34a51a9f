package jobrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/affiliatepay/internal/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) (Service, *ledgertest.Fixtures) {
	t.Helper()
	db := ledgertest.OpenDB(t, &Run{})
	fixtures := ledgertest.NewFixtures(t, db)
	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: fixtures.Node,
		Clock: fixtures.Clock,
	})
	return svc, fixtures
}

func TestAcquireRejectsConcurrentRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	lease, err := svc.Acquire(ctx, "affiliate_payout:BATCH-2025-W03", AcquireOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, lease.RunID)

	_, err = svc.Acquire(ctx, "affiliate_payout:BATCH-2025-W03", AcquireOptions{AllowRerun: true})
	assert.ErrorIs(t, err, ErrRunInProgress)

	run, err := svc.Get(ctx, "affiliate_payout:BATCH-2025-W03")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "affiliate_payout", run.Job)
}

func TestAcquireCompletedKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key := "affiliate_payout:BATCH-2025-W03"

	lease, err := svc.Acquire(ctx, key, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, lease))

	_, err = svc.Acquire(ctx, key, AcquireOptions{})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	rerun, err := svc.Acquire(ctx, key, AcquireOptions{AllowRerun: true})
	require.NoError(t, err)
	assert.NotEqual(t, lease.RunID, rerun.RunID)

	run, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Attempts)
	assert.Nil(t, run.FinishedAt)
}

func TestAcquireAfterFailure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key := "referral_auto_approve:2025-01-13"

	lease, err := svc.Acquire(ctx, key, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, lease, errors.New("db unavailable")))

	run, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "db unavailable", *run.LastError)

	_, err = svc.Acquire(ctx, key, AcquireOptions{})
	require.NoError(t, err)
}

func TestStaleRunIsTakenOverAndOldLeaseIsLost(t *testing.T) {
	svc, fixtures := newTestService(t)
	ctx := context.Background()
	key := "affiliate_payout:BATCH-2025-W03"

	first, err := svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	require.NoError(t, err)

	fixtures.Clock.Advance(30 * time.Minute)
	_, err = svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	assert.ErrorIs(t, err, ErrRunInProgress)

	fixtures.Clock.Advance(2 * time.Hour)
	second, err := svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Complete(ctx, first), ErrLeaseLost)
	require.NoError(t, svc.Complete(ctx, second))
}

func TestTouchKeepsLongRunFresh(t *testing.T) {
	svc, fixtures := newTestService(t)
	ctx := context.Background()
	key := "affiliate_payout:BATCH-2025-W03"

	lease, err := svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		fixtures.Clock.Advance(45 * time.Minute)
		require.NoError(t, svc.Touch(ctx, lease))
	}

	_, err = svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	assert.ErrorIs(t, err, ErrRunInProgress)

	run, err := svc.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.UpdatedAt.Equal(fixtures.Clock.Now()))
	require.NoError(t, svc.Complete(ctx, lease))
}

func TestTouchAfterTakeoverIsLost(t *testing.T) {
	svc, fixtures := newTestService(t)
	ctx := context.Background()
	key := "affiliate_payout:BATCH-2025-W03"

	first, err := svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	require.NoError(t, err)
	fixtures.Clock.Advance(2 * time.Hour)
	second, err := svc.Acquire(ctx, key, AcquireOptions{StaleAfter: time.Hour})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Touch(ctx, first), ErrLeaseLost)
	assert.NoError(t, svc.Touch(ctx, second))
	assert.ErrorIs(t, svc.Touch(ctx, nil), ErrLeaseLost)
}

func TestAcquireValidatesKey(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Acquire(context.Background(), "  ", AcquireOptions{})
	assert.ErrorIs(t, err, ErrInvalidRunKey)
}
