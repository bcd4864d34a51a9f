// Package balance maintains the per-affiliate balance columns. Pending and
// approved are always derivable from referral sums; paid only moves inside a
// payout commit.
package balance

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	FieldPending  = "pending_balance"
	FieldApproved = "approved_balance"
	FieldPaid     = "paid_balance"
)

type Balances struct {
	AffiliateID snowflake.ID `json:"affiliate_id"`
	Pending     int64        `json:"pending_balance"`
	Approved    int64        `json:"approved_balance"`
	Paid        int64        `json:"paid_balance"`
}

// Drift records a decrement that would have taken a column below zero.
type Drift struct {
	AffiliateID snowflake.ID `json:"affiliate_id"`
	Field       string       `json:"field"`
	Stored      int64        `json:"stored"`
	Decrement   int64        `json:"decrement"`
}

// Shortfall is how far below zero the column would have gone.
func (d Drift) Shortfall() int64 {
	return d.Decrement - d.Stored
}

type FieldDiff struct {
	Field   string `json:"field"`
	Stored  int64  `json:"stored"`
	Derived int64  `json:"derived"`
}

// Report compares stored columns against referral sums.
type Report struct {
	Stored  Balances    `json:"stored"`
	Derived Balances    `json:"derived"`
	Diffs   []FieldDiff `json:"diffs"`
}

func (r Report) InSync() bool {
	return len(r.Diffs) == 0
}

type Aggregate interface {
	// Recalculate rewrites pending and approved from referral sums inside tx.
	Recalculate(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (Balances, error)
	// ApplyPayout moves amount from pending/approved into paid inside tx.
	ApplyPayout(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, amount int64) (Balances, []Drift, error)
	Reconcile(ctx context.Context, affiliateID snowflake.ID) (Report, error)
	Get(ctx context.Context, affiliateID snowflake.ID) (Balances, error)
}

var (
	ErrAffiliateNotFound = errors.New("affiliate_not_found")
	ErrInvalidAmount     = errors.New("invalid_payout_amount")
)
