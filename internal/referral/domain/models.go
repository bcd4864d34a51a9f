// Package domain holds the referral ledger: one row per commission-bearing
// order attributed to an affiliate.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusVoid     Status = "void"
	StatusFlagged  Status = "flagged"
)

// Owed statuses count toward the pending balance.
var OwedStatuses = []Status{StatusPending, StatusFlagged, StatusApproved}

type FlagReason string

const (
	FlagReasonSelfReferral FlagReason = "self_referral"
	FlagReasonCouponAbuse  FlagReason = "coupon_abuse"
)

func (r FlagReason) Valid() bool {
	switch r {
	case FlagReasonSelfReferral, FlagReasonCouponAbuse:
		return true
	default:
		return false
	}
}

type Referral struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	AffiliateID      snowflake.ID  `gorm:"not null;uniqueIndex:ux_affiliate_referrals_order,priority:1;index:idx_affiliate_referrals_affiliate_status,priority:1" json:"affiliate_id"`
	OrderID          string        `gorm:"type:text;not null;uniqueIndex:ux_affiliate_referrals_order,priority:2" json:"order_id"`
	CommissionAmount int64         `gorm:"not null" json:"commission_amount"`
	Status           Status        `gorm:"type:text;not null;index:idx_affiliate_referrals_affiliate_status,priority:2" json:"status"`
	FlagReason       *FlagReason   `gorm:"type:text" json:"flag_reason,omitempty"`
	ReviewNotes      *string       `gorm:"type:text" json:"review_notes,omitempty"`
	VoidReason       *string       `gorm:"type:text" json:"void_reason,omitempty"`
	ReviewedBy       *string       `gorm:"type:text" json:"reviewed_by,omitempty"`
	PayoutID         *snowflake.ID `gorm:"index" json:"payout_id,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	VoidedAt         *time.Time    `json:"voided_at,omitempty"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (Referral) TableName() string { return "affiliate_referrals" }

// Totals are referral sums per status for one affiliate. Approved excludes
// rows that already carry paid_at.
type Totals struct {
	Pending  int64
	Flagged  int64
	Approved int64
	Paid     int64
	Void     int64
}

// Owed is the pending balance: money earned, not void, not yet paid.
func (t Totals) Owed() int64 {
	return t.Pending + t.Flagged + t.Approved
}
