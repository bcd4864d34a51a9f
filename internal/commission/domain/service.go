package domain

import (
	"context"
	"errors"
	"time"

	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionVoid    Decision = "void"
)

type RecordCommissionRequest struct {
	AffiliateID   string                     `json:"affiliate_id"`
	OrderID       string                     `json:"order_id"`
	Amount        int64                      `json:"amount"`
	CustomerEmail string                     `json:"customer_email"`
	FlagReason    *referraldomain.FlagReason `json:"flag_reason"`
	ActorID       string                     `json:"-"`
}

type FlagRequest struct {
	ReferralID string                    `json:"-"`
	Reason     referraldomain.FlagReason `json:"reason"`
	ActorID    string                    `json:"-"`
}

type ApproveRequest struct {
	ReferralID string `json:"-"`
	ActorID    string `json:"-"`
}

type VoidRequest struct {
	ReferralID string `json:"-"`
	Notes      string `json:"notes"`
	ActorID    string `json:"-"`
}

type ReviewRequest struct {
	ReferralID string   `json:"-"`
	Decision   Decision `json:"decision"`
	Notes      string   `json:"notes"`
	ActorID    string   `json:"-"`
}

type AutoApproveRequest struct {
	// HoldPeriod overrides the configured hold period when set.
	HoldPeriod *time.Duration
	ActorID    string
}

type ItemError struct {
	ReferralID string `json:"referral_id"`
	Error      string `json:"error"`
}

type AutoApproveResult struct {
	Cutoff   time.Time   `json:"cutoff"`
	Scanned  int         `json:"scanned"`
	Approved int         `json:"approved"`
	Errors   []ItemError `json:"errors"`
}

type ListRequest struct {
	AffiliateID string
	Status      string
	Limit       int
}

type Service interface {
	RecordCommission(ctx context.Context, req RecordCommissionRequest) (referraldomain.Referral, error)
	Flag(ctx context.Context, req FlagRequest) (referraldomain.Referral, error)
	Approve(ctx context.Context, req ApproveRequest) (referraldomain.Referral, error)
	Void(ctx context.Context, req VoidRequest) (referraldomain.Referral, error)
	Review(ctx context.Context, req ReviewRequest) (referraldomain.Referral, error)
	AutoApprove(ctx context.Context, req AutoApproveRequest) (AutoApproveResult, error)
	Get(ctx context.Context, id string) (referraldomain.Referral, error)
	List(ctx context.Context, req ListRequest) ([]referraldomain.Referral, error)
}

var (
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrNotesRequired          = errors.New("notes_required")
	ErrReferralNotFound       = errors.New("referral_not_found")
	ErrDuplicateReferral      = errors.New("duplicate_referral")
	ErrAffiliateNotFound      = errors.New("affiliate_not_found")
	ErrAffiliateSuspended     = errors.New("affiliate_suspended")
	ErrInvalidReferralID      = errors.New("invalid_referral_id")
	ErrInvalidAffiliateID     = errors.New("invalid_affiliate_id")
	ErrInvalidOrderID         = errors.New("invalid_order_id")
	ErrInvalidAmount          = errors.New("invalid_commission_amount")
	ErrInvalidFlagReason      = errors.New("invalid_flag_reason")
	ErrInvalidDecision        = errors.New("invalid_review_decision")
	ErrInvalidStatus          = errors.New("invalid_referral_status")
	ErrInvalidHoldPeriod      = errors.New("invalid_hold_period")
)
