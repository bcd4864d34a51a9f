package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/affiliatepay/pkg/db/pagination"
)

// Audit actions written by the ledger.
const (
	ActionAffiliateCreate          = "affiliate.create"
	ActionAffiliateActivate        = "affiliate.activate"
	ActionAffiliateSuspend         = "affiliate.suspend"
	ActionAffiliateDelete          = "affiliate.delete"
	ActionPayoutAccountUpsert      = "affiliate.payout_account.upsert"
	ActionReferralRecord           = "referral.record"
	ActionReferralFlag             = "referral.flag"
	ActionReferralApprove          = "referral.approve"
	ActionReferralVoid             = "referral.void"
	ActionReferralReview           = "referral.review"
	ActionReferralAutoApprove      = "referral.auto_approve"
	ActionPayoutBatchRun           = "payout.batch.run"
	ActionPayoutManual             = "payout.manual"
	ActionSettingsUpdate           = "settings.affiliate.update"
	ActionAuthorizationDenied      = "authorization.denied"
	ActionAuthorizationGranted     = "authorization.granted"
	ActionLedgerDriftDetected      = "ledger.drift_detected"
	ActionPayoutManualIntervention = "payout.manual_intervention"
	ActionPayoutFailed             = "payout.failed"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
