package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 200

type repo struct{}

func Provide() referraldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, referral *referraldomain.Referral) error {
	return tx.WithContext(ctx).Create(referral).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*referraldomain.Referral, error) {
	return r.find(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*referraldomain.Referral, error) {
	query := tx.WithContext(ctx).Where("id = ?", id)
	if db.SupportsRowLocking(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(query)
}

func (r *repo) find(query *gorm.DB) (*referraldomain.Referral, error) {
	var referral referraldomain.Referral
	if err := query.Limit(1).Find(&referral).Error; err != nil {
		return nil, err
	}
	if referral.ID == 0 {
		return nil, nil
	}
	return &referral, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, filter referraldomain.ListFilter) ([]referraldomain.Referral, error) {
	query := tx.WithContext(ctx).Model(&referraldomain.Referral{})
	if filter.AffiliateID != nil {
		query = query.Where("affiliate_id = ?", *filter.AffiliateID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PayoutID != nil {
		query = query.Where("payout_id = ?", *filter.PayoutID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	var referrals []referraldomain.Referral
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) UpdateIfStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, from []referraldomain.Status, values map[string]any) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&referraldomain.Referral{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repo) ListPendingCreatedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]referraldomain.Referral, error) {
	var referrals []referraldomain.Referral
	err := tx.WithContext(ctx).
		Where("status = ? AND created_at <= ?", referraldomain.StatusPending, cutoff).
		Order("created_at ASC, id ASC").
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) ListApprovedUnpaid(ctx context.Context, tx *gorm.DB, affiliateIDs []snowflake.ID) ([]referraldomain.Referral, error) {
	if len(affiliateIDs) == 0 {
		return nil, nil
	}
	var referrals []referraldomain.Referral
	err := tx.WithContext(ctx).
		Where("affiliate_id IN ? AND status = ? AND paid_at IS NULL", affiliateIDs, referraldomain.StatusApproved).
		Order("affiliate_id ASC, created_at ASC, id ASC").
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) LockApprovedUnpaid(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, ids []snowflake.ID) ([]referraldomain.Referral, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := tx.WithContext(ctx).
		Where("affiliate_id = ? AND id IN ? AND status = ? AND paid_at IS NULL", affiliateID, ids, referraldomain.StatusApproved).
		Order("id ASC")
	if db.SupportsRowLocking(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var referrals []referraldomain.Referral
	if err := query.Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, ids []snowflake.ID, payoutID snowflake.ID, paidAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.WithContext(ctx).
		Model(&referraldomain.Referral{}).
		Where("affiliate_id = ? AND id IN ? AND status = ? AND paid_at IS NULL", affiliateID, ids, referraldomain.StatusApproved).
		Updates(map[string]any{
			"status":     referraldomain.StatusPaid,
			"paid_at":    paidAt,
			"payout_id":  payoutID,
			"updated_at": paidAt,
		})
	return res.RowsAffected, res.Error
}

type statusSum struct {
	Status referraldomain.Status
	Paid   bool
	Total  int64
}

func (r *repo) SumByStatus(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (referraldomain.Totals, error) {
	var rows []statusSum
	err := tx.WithContext(ctx).Raw(
		`SELECT status, paid_at IS NOT NULL AS paid, COALESCE(SUM(commission_amount), 0) AS total
		 FROM affiliate_referrals
		 WHERE affiliate_id = ?
		 GROUP BY status, paid_at IS NOT NULL`,
		affiliateID,
	).Scan(&rows).Error
	if err != nil {
		return referraldomain.Totals{}, err
	}

	var totals referraldomain.Totals
	for _, row := range rows {
		switch row.Status {
		case referraldomain.StatusPending:
			totals.Pending += row.Total
		case referraldomain.StatusFlagged:
			totals.Flagged += row.Total
		case referraldomain.StatusApproved:
			if !row.Paid {
				totals.Approved += row.Total
			}
		case referraldomain.StatusPaid:
			totals.Paid += row.Total
		case referraldomain.StatusVoid:
			totals.Void += row.Total
		}
	}
	return totals, nil
}

func (r *repo) CountByAffiliate(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&referraldomain.Referral{}).
		Where("affiliate_id = ?", affiliateID).
		Count(&count).Error
	return count, err
}
