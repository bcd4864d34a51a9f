// Package domain contains payout records, batch identity and the typed
// metadata that pins a payout to its referral set.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

const (
	PaymentMethodStripeTransfer = "stripe_transfer"
	PaymentMethodBankTransfer   = "bank_transfer"
	PaymentMethodPayPal         = "paypal"
	PaymentMethodCheck          = "check"
	PaymentMethodOther          = "other"
)

// ManualPaymentMethods are accepted by RecordManualPayout.
var ManualPaymentMethods = []string{
	PaymentMethodBankTransfer,
	PaymentMethodPayPal,
	PaymentMethodCheck,
	PaymentMethodOther,
}

// Payout is one disbursement record. Notes carries the encoded
// PayoutMetadata and is the source of truth for which referrals it covers.
// SettledBatchID is the batch whose run sent the transfer; it differs from
// PayoutBatchID when a later batch resumed a pending payout.
type Payout struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	AffiliateID    snowflake.ID `gorm:"not null;uniqueIndex:ux_affiliate_payouts_batch,priority:1;uniqueIndex:ux_affiliate_payouts_settled_batch,priority:1" json:"affiliate_id"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Currency       string       `gorm:"type:text;not null" json:"currency"`
	PaymentMethod  string       `gorm:"type:text;not null" json:"payment_method"`
	Status         Status       `gorm:"type:text;not null;index" json:"status"`
	PayoutBatchID  string       `gorm:"type:text;not null;uniqueIndex:ux_affiliate_payouts_batch,priority:2" json:"payout_batch_id"`
	SettledBatchID *string      `gorm:"type:text;uniqueIndex:ux_affiliate_payouts_settled_batch,priority:2" json:"settled_batch_id,omitempty"`
	TransferID     *string      `gorm:"type:text" json:"transfer_id,omitempty"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex" json:"idempotency_key"`
	Reference      *string      `gorm:"type:text" json:"reference,omitempty"`
	Notes          string       `gorm:"type:text;not null" json:"-"`
	LastError      *string      `gorm:"type:text" json:"last_error,omitempty"`
	Attempts       int          `gorm:"not null;default:0" json:"attempts"`
	CreatedBy      *string      `gorm:"type:text" json:"created_by,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	PaidAt         *time.Time   `json:"paid_at,omitempty"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Payout) TableName() string { return "affiliate_payouts" }

// SettledIn reports whether this payout is the one paid for batchID.
func (p Payout) SettledIn(batchID string) bool {
	if p.Status != StatusPaid {
		return false
	}
	if p.SettledBatchID != nil {
		return *p.SettledBatchID == batchID
	}
	return p.PayoutBatchID == batchID
}

type ResultStatus string

const (
	ResultSuccess     ResultStatus = "success"
	ResultFailed      ResultStatus = "failed"
	ResultSkipped     ResultStatus = "skipped"
	ResultAlreadyPaid ResultStatus = "already_paid"
)

// Result is the per-affiliate outcome of a batch run.
type Result struct {
	AffiliateID   snowflake.ID  `json:"affiliate_id"`
	AffiliateName string        `json:"affiliate_name,omitempty"`
	Status        ResultStatus  `json:"status"`
	Amount        int64         `json:"amount"`
	ReferralCount int           `json:"referral_count,omitempty"`
	PayoutID      *snowflake.ID `json:"payout_id,omitempty"`
	TransferID    string        `json:"transfer_id,omitempty"`
	Resumed       bool          `json:"resumed,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type BatchSummary struct {
	BatchID          string    `json:"batch_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	DryRun           bool      `json:"dry_run"`
	EligibleCount    int       `json:"eligible_count"`
	IneligibleCount  int       `json:"ineligible_count"`
	SuccessCount     int       `json:"success_count"`
	FailedCount      int       `json:"failed_count"`
	SkippedCount     int       `json:"skipped_count"`
	AlreadyPaidCount int       `json:"already_paid_count"`
	TotalPaid        int64     `json:"total_paid"`
	Results          []Result  `json:"results"`
}

// Attempted counts payouts that reached the gateway step.
func (s BatchSummary) Attempted() int {
	return s.SuccessCount + s.FailedCount
}
