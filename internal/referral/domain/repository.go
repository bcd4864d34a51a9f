package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	AffiliateID *snowflake.ID
	Status      *Status
	PayoutID    *snowflake.ID
	Limit       int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, referral *Referral) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Referral, error)

	// UpdateIfStatus applies values only while the row is still in one of
	// from; the returned row count is 0 when another writer got there first.
	UpdateIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, values map[string]any) (int64, error)

	ListPendingCreatedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]Referral, error)
	ListApprovedUnpaid(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) ([]Referral, error)
	LockApprovedUnpaid(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, ids []snowflake.ID) ([]Referral, error)
	MarkPaid(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, ids []snowflake.ID, payoutID snowflake.ID, paidAt time.Time) (int64, error)
	SumByStatus(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (Totals, error)
	CountByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (int64, error)
}
