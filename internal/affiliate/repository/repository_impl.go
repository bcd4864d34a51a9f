package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() affiliatedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, affiliate *affiliatedomain.Affiliate) error {
	return tx.WithContext(ctx).Create(affiliate).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*affiliatedomain.Affiliate, error) {
	var affiliate affiliatedomain.Affiliate
	err := tx.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&affiliate).Error
	if err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*affiliatedomain.Affiliate, error) {
	query := tx.WithContext(ctx).Where("id = ?", id).Limit(1)
	if db.SupportsRowLocking(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var affiliate affiliatedomain.Affiliate
	if err := query.Find(&affiliate).Error; err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) FindByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*affiliatedomain.Affiliate, error) {
	var affiliate affiliatedomain.Affiliate
	err := tx.WithContext(ctx).
		Where("referral_code = ?", code).
		Limit(1).
		Find(&affiliate).Error
	if err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) ListByStatus(ctx context.Context, tx *gorm.DB, status affiliatedomain.Status) ([]affiliatedomain.Affiliate, error) {
	var affiliates []affiliatedomain.Affiliate
	err := tx.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&affiliates).Error
	if err != nil {
		return nil, err
	}
	return affiliates, nil
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, from []affiliatedomain.Status, to affiliatedomain.Status, at time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&affiliatedomain.Affiliate{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateBalances(ctx context.Context, tx *gorm.DB, affiliate *affiliatedomain.Affiliate) error {
	return tx.WithContext(ctx).
		Model(&affiliatedomain.Affiliate{}).
		Where("id = ?", affiliate.ID).
		Updates(map[string]any{
			"pending_balance":  affiliate.PendingBalance,
			"approved_balance": affiliate.ApprovedBalance,
			"paid_balance":     affiliate.PaidBalance,
			"updated_at":       affiliate.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM affiliates WHERE id = ?`, id).Error
}

func (r *repo) FindPayoutAccount(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (*affiliatedomain.PayoutAccount, error) {
	var account affiliatedomain.PayoutAccount
	err := tx.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Limit(1).
		Find(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindPayoutAccounts(ctx context.Context, tx *gorm.DB, affiliateIDs []snowflake.ID) ([]affiliatedomain.PayoutAccount, error) {
	if len(affiliateIDs) == 0 {
		return nil, nil
	}
	var accounts []affiliatedomain.PayoutAccount
	err := tx.WithContext(ctx).
		Where("affiliate_id IN ?", affiliateIDs).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) UpsertPayoutAccount(ctx context.Context, tx *gorm.DB, account *affiliatedomain.PayoutAccount) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "affiliate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"provider_account_id",
			"payouts_enabled",
			"details_submitted",
			"country",
			"currency",
			"synced_at",
			"updated_at",
		}),
	}).Create(account).Error
}

func (r *repo) DeletePayoutAccount(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM affiliate_payout_accounts WHERE affiliate_id = ?`, affiliateID).Error
}
