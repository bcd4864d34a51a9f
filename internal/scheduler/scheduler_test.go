package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	"github.com/smallbiznis/affiliatepay/internal/ledgertest"
	obsmetrics "github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePayouts struct {
	payoutdomain.Service
	mu      sync.Mutex
	calls   int
	reqs    []payoutdomain.RunBatchRequest
	summary payoutdomain.BatchSummary
	err     error
}

func (f *fakePayouts) RunPayoutBatch(ctx context.Context, req payoutdomain.RunBatchRequest) (payoutdomain.BatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	return f.summary, f.err
}

type fakeCommissions struct {
	commissiondomain.Service
	mu     sync.Mutex
	calls  int
	result commissiondomain.AutoApproveResult
	err    error
}

func (f *fakeCommissions) AutoApprove(ctx context.Context, req commissiondomain.AutoApproveRequest) (commissiondomain.AutoApproveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type countingPusher struct {
	mu     sync.Mutex
	pushes int
}

func (p *countingPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes++
	_, err := gatherer.Gather()
	return err
}

type testScheduler struct {
	*Scheduler
	payouts     *fakePayouts
	commissions *fakeCommissions
	fx          *ledgertest.Fixtures
	registry    *prometheus.Registry
	pusher      *countingPusher
}

func newTestScheduler(t *testing.T, cfg Config) *testScheduler {
	t.Helper()
	db := ledgertest.OpenDB(t, &jobrun.Run{})
	fixtures := ledgertest.NewFixtures(t, db)
	log := zaptest.NewLogger(t)
	registry := prometheus.NewRegistry()
	payouts := &fakePayouts{}
	commissions := &fakeCommissions{}
	pusher := &countingPusher{}

	sched, err := New(Params{
		Log:           log,
		Clock:         fixtures.Clock,
		GenID:         fixtures.Node,
		PayoutSvc:     payouts,
		CommissionSvc: commissions,
		Runs: jobrun.NewService(jobrun.Params{
			DB:    db,
			Log:   log,
			GenID: fixtures.Node,
			Clock: fixtures.Clock,
		}),
		Metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
		Pusher:  pusher,
		Config:  cfg,
	})
	require.NoError(t, err)
	sched.gatherer = registry

	return &testScheduler{
		Scheduler:   sched,
		payouts:     payouts,
		commissions: commissions,
		fx:          fixtures,
		registry:    registry,
		pusher:      pusher,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{Log: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	s := newTestScheduler(t, Config{})

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "affiliatepay", "env": "test", "job": "timeout_job"}
	assert.Equal(t, float64(1), getCounterValue(t, s.registry, "affiliatepay_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "affiliatepay",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, s.registry, "affiliatepay_scheduler_job_errors_total", errorLabels))
	assert.Equal(t, 1, s.pusher.pushes)
}

func TestPayoutJobRunsBatchAsSystem(t *testing.T) {
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobAffiliatePayout}})
	s.payouts.summary = payoutdomain.BatchSummary{
		BatchID:      "BATCH-2025-W03",
		SuccessCount: 2,
		Results:      make([]payoutdomain.Result, 3),
	}

	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, s.payouts.calls)
	assert.False(t, s.payouts.reqs[0].DryRun)
	assert.False(t, s.payouts.reqs[0].AllowRerun)
	assert.Equal(t, 0, s.commissions.calls)

	labels := map[string]string{"service": "affiliatepay", "env": "test", "job": JobAffiliatePayout, "resource": "affiliate"}
	assert.Equal(t, float64(3), getCounterValue(t, s.registry, "affiliatepay_scheduler_batch_processed_total", labels))
}

func TestPayoutJobSkipsCompletedBatch(t *testing.T) {
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobAffiliatePayout}})
	s.payouts.err = jobrun.ErrAlreadyCompleted

	require.NoError(t, s.RunOnce(context.Background()))

	labels := map[string]string{
		"service": "affiliatepay",
		"env":     "test",
		"job":     JobAffiliatePayout,
		"reason":  obsmetrics.SchedulerSkipReasonAlreadyCompleted,
	}
	assert.Equal(t, float64(1), getCounterValue(t, s.registry, "affiliatepay_scheduler_job_skipped_total", labels))
}

func TestPayoutJobReportsFailure(t *testing.T) {
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobAffiliatePayout}})
	s.payouts.err = errors.New("settings unavailable")

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobAffiliatePayout)
	assert.Contains(t, err.Error(), "settings unavailable")
}

func TestAutoApproveJobRunsOncePerDay(t *testing.T) {
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobCommissionAutoApprove}})
	s.commissions.result = commissiondomain.AutoApproveResult{Scanned: 4, Approved: 3}
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx))
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 1, s.commissions.calls)

	run, err := s.runs.Get(ctx, "commission_auto_approve:2025-01-13")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, jobrun.StatusCompleted, run.Status)

	s.fx.Clock.Advance(24 * time.Hour)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 2, s.commissions.calls)
	assert.Equal(t, 0, s.payouts.calls)
}

func TestAutoApproveJobFailureAllowsRetry(t *testing.T) {
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobCommissionAutoApprove}})
	s.commissions.err = errors.New("db down")
	ctx := context.Background()

	require.Error(t, s.RunOnce(ctx))
	run, err := s.runs.Get(ctx, "commission_auto_approve:2025-01-13")
	require.NoError(t, err)
	assert.Equal(t, jobrun.StatusFailed, run.Status)

	s.commissions.err = nil
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 2, s.commissions.calls)
}

func TestIsJobEnabled(t *testing.T) {
	all := newTestScheduler(t, Config{})
	assert.True(t, all.isJobEnabled(JobAffiliatePayout))
	assert.True(t, all.isJobEnabled(JobCommissionAutoApprove))

	only := &Scheduler{cfg: Config{EnabledJobs: []string{"AFFILIATE_PAYOUT"}}}
	assert.True(t, only.isJobEnabled(JobAffiliatePayout))
	assert.False(t, only.isJobEnabled(JobCommissionAutoApprove))
}

func TestStartRegistersCronJobs(t *testing.T) {
	s := newTestScheduler(t, Config{})
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Jobs(), 2)
	require.NoError(t, s.Stop())

	bad := newTestScheduler(t, Config{PayoutCron: "not a cron"})
	assert.Error(t, bad.Start())
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
