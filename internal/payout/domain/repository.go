package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	AffiliateID *snowflake.ID
	BatchID     string
	Status      *Status
	Limit       int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	// FindByAffiliateBatch returns the payout created in batchID or settled by
	// it.
	FindByAffiliateBatch(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, batchID string) (*Payout, error)
	// FindOldestPendingOutside returns the affiliate's oldest pending payout
	// from a batch other than batchID.
	FindOldestPendingOutside(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, batchID string) (*Payout, error)
	FindPendingByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*Payout, error)
	ListSettledInBatch(ctx context.Context, db *gorm.DB, batchID string) ([]Payout, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payout, error)

	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, settledBatchID string, paidAt time.Time) (int64, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (int64, error)
	RecordAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError *string, at time.Time) error
}
