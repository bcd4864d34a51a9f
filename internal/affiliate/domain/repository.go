package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Affiliate, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Affiliate, error)
	FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*Affiliate, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status Status) ([]Affiliate, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, at time.Time) (int64, error)
	UpdateBalances(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	FindPayoutAccount(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*PayoutAccount, error)
	FindPayoutAccounts(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) ([]PayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, db *gorm.DB, account *PayoutAccount) error
	DeletePayoutAccount(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) error
}
