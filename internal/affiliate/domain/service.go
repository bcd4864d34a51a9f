package domain

import (
	"context"
	"errors"
)

type CreateRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	UserID       *string `json:"user_id"`
	ReferralCode string  `json:"referral_code"`
	Activate     bool    `json:"activate"`
}

type UpsertPayoutAccountRequest struct {
	AffiliateID       string `json:"-"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	PayoutsEnabled    bool   `json:"payouts_enabled"`
	DetailsSubmitted  bool   `json:"details_submitted"`
	Country           string `json:"country"`
	Currency          string `json:"currency"`
}

type DeleteRequest struct {
	ID      string
	Cascade bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Affiliate, error)
	Get(ctx context.Context, id string) (Affiliate, error)
	ListActive(ctx context.Context) ([]Affiliate, error)
	Activate(ctx context.Context, id string) (Affiliate, error)
	Suspend(ctx context.Context, id string) (Affiliate, error)
	Delete(ctx context.Context, req DeleteRequest) error

	GetPayoutAccount(ctx context.Context, affiliateID string) (PayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, req UpsertPayoutAccountRequest) (PayoutAccount, error)
	SyncPayoutAccount(ctx context.Context, affiliateID string) (PayoutAccount, error)
}

var (
	ErrInvalidID               = errors.New("invalid_affiliate_id")
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidEmail            = errors.New("invalid_email")
	ErrInvalidReferralCode     = errors.New("invalid_referral_code")
	ErrReferralCodeTaken       = errors.New("referral_code_taken")
	ErrNotFound                = errors.New("affiliate_not_found")
	ErrInvalidStatusTransition = errors.New("invalid_affiliate_status_transition")
	ErrHasReferrals            = errors.New("affiliate_has_referrals")
	ErrInvalidProvider         = errors.New("invalid_payout_provider")
	ErrInvalidProviderAccount  = errors.New("invalid_provider_account_id")
	ErrPayoutAccountNotFound   = errors.New("payout_account_not_found")
)
