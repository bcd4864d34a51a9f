package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type repo struct{}

func Provide() payoutdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payout *payoutdomain.Payout) error {
	return tx.WithContext(ctx).Create(payout).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*payoutdomain.Payout, error) {
	return r.find(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByAffiliateBatch(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, batchID string) (*payoutdomain.Payout, error) {
	return r.find(tx.WithContext(ctx).
		Where("affiliate_id = ? AND (payout_batch_id = ? OR settled_batch_id = ?)", affiliateID, batchID, batchID).
		Order("created_at ASC, id ASC"))
}

func (r *repo) FindOldestPendingOutside(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, batchID string) (*payoutdomain.Payout, error) {
	return r.find(tx.WithContext(ctx).
		Where("affiliate_id = ? AND status = ? AND payout_batch_id <> ?", affiliateID, payoutdomain.StatusPending, batchID).
		Order("created_at ASC, id ASC"))
}

func (r *repo) FindPendingByAffiliate(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (*payoutdomain.Payout, error) {
	return r.find(tx.WithContext(ctx).
		Where("affiliate_id = ? AND status = ?", affiliateID, payoutdomain.StatusPending).
		Order("created_at ASC, id ASC"))
}

func (r *repo) ListSettledInBatch(ctx context.Context, tx *gorm.DB, batchID string) ([]payoutdomain.Payout, error) {
	var payouts []payoutdomain.Payout
	err := tx.WithContext(ctx).
		Where("status = ? AND (settled_batch_id = ? OR (settled_batch_id IS NULL AND payout_batch_id = ?))", payoutdomain.StatusPaid, batchID, batchID).
		Order("affiliate_id ASC").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repo) find(query *gorm.DB) (*payoutdomain.Payout, error) {
	var payout payoutdomain.Payout
	if err := query.Limit(1).Find(&payout).Error; err != nil {
		return nil, err
	}
	if payout.ID == 0 {
		return nil, nil
	}
	return &payout, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, filter payoutdomain.ListFilter) ([]payoutdomain.Payout, error) {
	query := tx.WithContext(ctx).Model(&payoutdomain.Payout{})
	if filter.AffiliateID != nil {
		query = query.Where("affiliate_id = ?", *filter.AffiliateID)
	}
	if filter.BatchID != "" {
		query = query.Where("payout_batch_id = ?", filter.BatchID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	var payouts []payoutdomain.Payout
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// MarkPaid promotes a pending payout; zero rows means it was no longer pending.
func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, transferID string, settledBatchID string, paidAt time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ? AND status = ?", id, payoutdomain.StatusPending).
		Updates(map[string]any{
			"status":           payoutdomain.StatusPaid,
			"transfer_id":      transferID,
			"settled_batch_id": settledBatchID,
			"paid_at":          paidAt,
			"last_error":       nil,
			"updated_at":       paidAt,
		})
	return res.RowsAffected, res.Error
}

// MarkFailed abandons a pending payout; zero rows means it was no longer
// pending.
func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, at time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ? AND status = ?", id, payoutdomain.StatusPending).
		Updates(map[string]any{
			"status":     payoutdomain.StatusFailed,
			"last_error": reason,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) RecordAttempt(ctx context.Context, tx *gorm.DB, id snowflake.ID, lastError *string, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
			"updated_at": at,
		}).Error
}
