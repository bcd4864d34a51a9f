// Package domain contains affiliate and payout-account persistence models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Affiliate is a partner earning commission on referred orders. The balance
// columns are derived from referrals and only mutated by the ledger.
type Affiliate struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID          *string      `gorm:"type:text" json:"user_id,omitempty"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Email           string       `gorm:"type:text;not null" json:"email"`
	ReferralCode    string       `gorm:"type:text;not null;uniqueIndex" json:"referral_code"`
	Status          Status       `gorm:"type:text;not null" json:"status"`
	PendingBalance  int64        `gorm:"not null;default:0" json:"pending_balance"`
	ApprovedBalance int64        `gorm:"not null;default:0" json:"approved_balance"`
	PaidBalance     int64        `gorm:"not null;default:0" json:"paid_balance"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Affiliate) TableName() string { return "affiliates" }

// PayoutAccount is the connected external account an affiliate is paid to.
type PayoutAccount struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	AffiliateID       snowflake.ID `gorm:"not null;uniqueIndex" json:"affiliate_id"`
	Provider          string       `gorm:"type:text;not null" json:"provider"`
	ProviderAccountID string       `gorm:"type:text;not null" json:"provider_account_id"`
	PayoutsEnabled    bool         `gorm:"not null;default:false" json:"payouts_enabled"`
	DetailsSubmitted  bool         `gorm:"not null;default:false" json:"details_submitted"`
	Country           string       `gorm:"type:text" json:"country"`
	Currency          string       `gorm:"type:text" json:"currency"`
	SyncedAt          *time.Time   `json:"synced_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (PayoutAccount) TableName() string { return "affiliate_payout_accounts" }
