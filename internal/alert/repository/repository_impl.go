package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/affiliatepay/internal/alert/domain"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alert *domain.Alert) error {
	if alert == nil {
		return nil
	}
	return db.WithContext(ctx).Create(alert).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Alert, error) {
	var alerts []domain.Alert
	stmt := db.WithContext(ctx).Model(&domain.Alert{})
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", string(filter.Type))
	}
	if batchID := strings.TrimSpace(filter.BatchID); batchID != "" {
		stmt = stmt.Where("batch_id = ?", batchID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if err := stmt.Order("created_at desc, id desc").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}
