package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	"github.com/smallbiznis/affiliatepay/internal/observability"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakePayouts struct {
	payoutdomain.Service

	runs      []payoutdomain.RunBatchRequest
	runErr    error
	statement []byte
	fails     []payoutdomain.FailPayoutRequest
	failErr   error
}

func (f *fakePayouts) RunPayoutBatch(ctx context.Context, req payoutdomain.RunBatchRequest) (payoutdomain.BatchSummary, error) {
	f.runs = append(f.runs, req)
	if f.runErr != nil {
		return payoutdomain.BatchSummary{}, f.runErr
	}
	return payoutdomain.BatchSummary{BatchID: "BATCH-2025-W03", SuccessCount: 1, TotalPaid: 5500}, nil
}

func (f *fakePayouts) Statement(ctx context.Context, id string) ([]byte, error) {
	if f.statement == nil {
		return nil, payoutdomain.ErrStatementDisabled
	}
	return f.statement, nil
}

func (f *fakePayouts) GetPayout(ctx context.Context, id string) (payoutdomain.Payout, error) {
	return payoutdomain.Payout{}, fmt.Errorf("load payout %s: %w", id, payoutdomain.ErrNotFound)
}

func (f *fakePayouts) FailPayout(ctx context.Context, req payoutdomain.FailPayoutRequest) (payoutdomain.Payout, error) {
	f.fails = append(f.fails, req)
	if f.failErr != nil {
		return payoutdomain.Payout{}, f.failErr
	}
	return payoutdomain.Payout{Status: payoutdomain.StatusFailed}, nil
}

type fakeCommissions struct {
	commissiondomain.Service

	err         error
	autoApprove []commissiondomain.AutoApproveRequest
	voids       []commissiondomain.VoidRequest
}

func (f *fakeCommissions) RecordCommission(ctx context.Context, req commissiondomain.RecordCommissionRequest) (referraldomain.Referral, error) {
	if f.err != nil {
		return referraldomain.Referral{}, f.err
	}
	return referraldomain.Referral{OrderID: req.OrderID, CommissionAmount: req.Amount, Status: referraldomain.StatusPending}, nil
}

func (f *fakeCommissions) Void(ctx context.Context, req commissiondomain.VoidRequest) (referraldomain.Referral, error) {
	f.voids = append(f.voids, req)
	if f.err != nil {
		return referraldomain.Referral{}, f.err
	}
	return referraldomain.Referral{Status: referraldomain.StatusVoid}, nil
}

func (f *fakeCommissions) AutoApprove(ctx context.Context, req commissiondomain.AutoApproveRequest) (commissiondomain.AutoApproveResult, error) {
	f.autoApprove = append(f.autoApprove, req)
	return commissiondomain.AutoApproveResult{Scanned: 2, Approved: 2}, nil
}

type testServer struct {
	engine      *gin.Engine
	payouts     *fakePayouts
	commissions *fakeCommissions
}

func newTestServer(t *testing.T, limiter *ratelimit.PayoutTriggerLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	ts := &testServer{
		engine:      NewEngine(observability.Config{}, nil),
		payouts:     &fakePayouts{},
		commissions: &fakeCommissions{},
	}
	srv := NewServer(ServerParams{
		Gin:           ts.engine,
		Log:           log,
		AuthzSvc:      authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		PayoutSvc:     ts.payouts,
		CommissionSvc: ts.commissions,
		PayoutLimiter: limiter,
	})
	srv.RegisterRoutes()
	return ts
}

func (ts *testServer) do(method, path, role string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set(HeaderActorID, role+"-1")
		req.Header.Set(HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAdminRoutesRequireActor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/payouts/run", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
	assert.Empty(t, ts.payouts.runs)
}

func TestRunPayoutsEnforcesRole(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/payouts/run", authorization.RoleSupport, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.payouts.runs)

	rec = ts.do(http.MethodPost, "/admin/payouts/run", "intern", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRunPayoutsAsFinance(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/payouts/run", authorization.RoleFinance, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, ts.payouts.runs, 1)
	assert.True(t, ts.payouts.runs[0].AllowRerun)
	assert.False(t, ts.payouts.runs[0].DryRun)
	assert.Equal(t, "finance-1", ts.payouts.runs[0].ActorID)

	var resp struct {
		Data payoutdomain.BatchSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BATCH-2025-W03", resp.Data.BatchID)
	assert.Equal(t, int64(5500), resp.Data.TotalPaid)
}

func TestRunPayoutsInProgressIsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.payouts.runErr = fmt.Errorf("acquire run: %w", jobrun.ErrRunInProgress)

	rec := ts.do(http.MethodPost, "/admin/payouts/run", authorization.RoleAdmin, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "conflict", payload.Type)
	assert.Equal(t, "run_in_progress", payload.Message)
}

func TestRunPayoutsRateLimited(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{PayoutTriggerRate: 1.0 / 60, PayoutTriggerBurst: 1}}
	limiter := ratelimit.NewPayoutTriggerLimiter(cfg, nil, zaptest.NewLogger(t))
	ts := newTestServer(t, limiter)

	first := ts.do(http.MethodPost, "/admin/payouts/run", authorization.RoleFinance, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(http.MethodPost, "/admin/payouts/run", authorization.RoleFinance, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, second).Type)
	assert.Len(t, ts.payouts.runs, 1)
}

func TestVoidRequiresNotes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.commissions.err = commissiondomain.ErrNotesRequired

	rec := ts.do(http.MethodPost, "/admin/referrals/123/void", authorization.RoleFinance, gin.H{"notes": " "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "notes", payload.Errors[0].Field)
	assert.Equal(t, "notes_required", payload.Errors[0].Code)

	require.Len(t, ts.commissions.voids, 1)
	assert.Equal(t, "123", ts.commissions.voids[0].ReferralID)
	assert.Equal(t, "", ts.commissions.voids[0].Notes)
}

func TestRecordCommissionDuplicateIsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.commissions.err = commissiondomain.ErrDuplicateReferral

	rec := ts.do(http.MethodPost, "/admin/referrals", authorization.RoleSupport, gin.H{
		"affiliate_id": "1",
		"order_id":     "order-1",
		"amount":       1500,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_referral", decodeError(t, rec).Message)
}

func TestAutoApproveHoldPeriodOverride(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/referrals/auto-approve", authorization.RoleFinance, gin.H{"hold_period_days": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/admin/referrals/auto-approve", authorization.RoleFinance, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, ts.commissions.autoApprove, 2)
	require.NotNil(t, ts.commissions.autoApprove[0].HoldPeriod)
	assert.Equal(t, 7*24*time.Hour, *ts.commissions.autoApprove[0].HoldPeriod)
	assert.Nil(t, ts.commissions.autoApprove[1].HoldPeriod)
	assert.Equal(t, "finance-1", ts.commissions.autoApprove[1].ActorID)
}

func TestPayoutStatement(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/admin/payouts/42/statement.pdf", authorization.RoleSupport, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.payouts.statement = []byte("%PDF-1.4")
	rec = ts.do(http.MethodGet, "/admin/payouts/42/statement.pdf", authorization.RoleSupport, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payout-42.pdf")
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestGetPayoutNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/admin/payouts/42", authorization.RoleFinance, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestFailPayout(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/payouts/42/fail", authorization.RoleSupport, map[string]string{"notes": "gateway rejected"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.payouts.fails)

	rec = ts.do(http.MethodPost, "/admin/payouts/42/fail", authorization.RoleFinance, map[string]string{"notes": " gateway rejected "})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.payouts.fails, 1)
	assert.Equal(t, payoutdomain.FailPayoutRequest{PayoutID: "42", Notes: "gateway rejected", ActorID: "finance-1"}, ts.payouts.fails[0])

	ts.payouts.failErr = payoutdomain.ErrPayoutNotPending
	rec = ts.do(http.MethodPost, "/admin/payouts/42/fail", authorization.RoleFinance, map[string]string{"notes": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Type)
}

func TestUnknownRouteAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		typ      string
		logCode  string
		errField string
	}{
		{payoutdomain.ErrInvalidMethod, http.StatusBadRequest, "validation_error", "invalid_payment_method", "payment_method"},
		{fmt.Errorf("%w: expected 5500", payoutdomain.ErrAmountMismatch), http.StatusBadRequest, "validation_error", "payout_amount_mismatch", "amount"},
		{payoutdomain.ErrNothingToPay, http.StatusConflict, "conflict", "nothing_to_pay", ""},
		{fmt.Errorf("%w: payout 7 from BATCH-2025-W03", payoutdomain.ErrPayoutPending), http.StatusConflict, "conflict", "payout_pending", ""},
		{payoutdomain.ErrNotesRequired, http.StatusBadRequest, "validation_error", "notes_required", "notes"},
		{commissiondomain.ErrInvalidStateTransition, http.StatusConflict, "conflict", "invalid_state_transition", ""},
		{commissiondomain.ErrReferralNotFound, http.StatusNotFound, "not_found", "not_found", ""},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden", "forbidden", ""},
		{ratelimit.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "rate_limited", ""},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error", "internal_error", ""},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
			if tc.errField != "" {
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tc.errField, payload.Errors[0].Field)
			}
			typ, code := classifyErrorForLog(tc.err)
			assert.Equal(t, tc.typ, typ)
			assert.Equal(t, tc.logCode, code)
		})
	}
}
