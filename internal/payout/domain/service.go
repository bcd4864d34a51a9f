package domain

import (
	"context"
	"errors"
)

type RunBatchRequest struct {
	DryRun  bool   `json:"dry_run"`
	ActorID string `json:"-"`
	// AllowRerun re-runs a batch whose run key already completed. Manual
	// triggers set it; the weekly schedule does not.
	AllowRerun bool `json:"-"`
}

type ManualPayoutRequest struct {
	AffiliateID   string `json:"affiliate_id"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference"`
	Amount        *int64 `json:"amount"`
	Notes         string `json:"notes"`
	ActorID       string `json:"-"`
}

// FailPayoutRequest abandons a pending gateway payout. The operator confirms
// the transfer never settled; its referrals become payable again.
type FailPayoutRequest struct {
	PayoutID string `json:"-"`
	Notes    string `json:"notes"`
	ActorID  string `json:"-"`
}

type ListPayoutsRequest struct {
	AffiliateID string
	BatchID     string
	Status      string
	Limit       int
}

type Service interface {
	RunPayoutBatch(ctx context.Context, req RunBatchRequest) (BatchSummary, error)
	PreviewBatch(ctx context.Context) (BatchSummary, error)
	RecordManualPayout(ctx context.Context, req ManualPayoutRequest) (Payout, error)
	FailPayout(ctx context.Context, req FailPayoutRequest) (Payout, error)
	ListPayouts(ctx context.Context, req ListPayoutsRequest) ([]Payout, error)
	GetPayout(ctx context.Context, id string) (Payout, error)
	Statement(ctx context.Context, id string) ([]byte, error)
}

var (
	ErrMalformedMetadata  = errors.New("malformed_payout_metadata")
	ErrReferralSetChanged = errors.New("payout_referral_set_changed")
	ErrPayoutStateChanged = errors.New("payout_state_changed")
	ErrAmountMismatch     = errors.New("payout_amount_mismatch")
	ErrNothingToPay       = errors.New("nothing_to_pay")
	ErrPayoutPending      = errors.New("payout_pending")
	ErrPayoutNotPending   = errors.New("payout_not_pending")
	ErrNotesRequired      = errors.New("notes_required")
	ErrInvalidID          = errors.New("invalid_payout_id")
	ErrInvalidAffiliate   = errors.New("invalid_affiliate_id")
	ErrInvalidStatus      = errors.New("invalid_payout_status")
	ErrInvalidMethod      = errors.New("invalid_payment_method")
	ErrNotFound           = errors.New("payout_not_found")
	ErrAffiliateNotFound  = errors.New("affiliate_not_found")
	ErrAffiliateSuspended = errors.New("affiliate_suspended")
	ErrStatementDisabled  = errors.New("payout_statement_unavailable")
)

const (
	ReasonNoPayoutAccount      = "No payout account connected"
	ReasonPayoutsNotEnabled    = "payouts not enabled"
	ReasonDetailsNotSubmitted  = "account details not submitted"
	ReasonCountryNotSupported  = "country not supported"
	ReasonCurrencyNotSupported = "currency not supported"
	ReasonBelowMinimum         = "below minimum payout"
	ReasonPayoutFailed         = "payout marked failed"

	MessageManualIntervention = "manual intervention required"
)
