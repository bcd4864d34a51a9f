package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/cache"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	cacheKey = "affiliate_settings"
	cacheTTL = 30 * time.Second
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Defaults *config.AffiliateConfigHolder
	Cache    cache.Cache[string, domain.AffiliateSettings]
	AuditSvc auditdomain.Service `optional:"true"`
}

type provider struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	defaults *config.AffiliateConfigHolder
	cache    cache.Cache[string, domain.AffiliateSettings]
	auditSvc auditdomain.Service
}

func NewProvider(p Params) domain.Provider {
	c := p.Cache
	if c == nil {
		c = cache.NewTTLCache[string, domain.AffiliateSettings]()
	}
	return &provider{
		db:       p.DB,
		log:      p.Log.Named("settings.provider"),
		clock:    p.Clock,
		defaults: p.Defaults,
		cache:    c,
		auditSvc: p.AuditSvc,
	}
}

// GetAffiliateSettings returns the persisted override when present and the
// file/env defaults otherwise.
func (p *provider) GetAffiliateSettings(ctx context.Context) (domain.AffiliateSettings, error) {
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached, nil
	}

	record, err := p.load(ctx, p.db)
	if err != nil {
		return domain.AffiliateSettings{}, err
	}

	var out domain.AffiliateSettings
	if record == nil {
		out = fromConfig(p.defaults.Get())
	} else {
		out = fromRecord(*record)
	}
	p.cache.Set(cacheKey, out, cacheTTL)
	return out, nil
}

func (p *provider) UpdateAffiliateSettings(ctx context.Context, req domain.UpdateRequest) (domain.AffiliateSettings, error) {
	current, err := p.GetAffiliateSettings(ctx)
	if err != nil {
		return domain.AffiliateSettings{}, err
	}

	next := current
	if req.MinimumPayout != nil {
		next.MinimumPayout = *req.MinimumPayout
	}
	if req.HoldPeriodDays != nil {
		next.HoldPeriodDays = *req.HoldPeriodDays
	}
	if req.SupportedCountry != nil {
		next.SupportedCountry = strings.ToUpper(strings.TrimSpace(*req.SupportedCountry))
	}
	if req.SupportedCurrency != nil {
		next.SupportedCurrency = strings.ToLower(strings.TrimSpace(*req.SupportedCurrency))
	}
	if err := validate(next); err != nil {
		return domain.AffiliateSettings{}, err
	}

	record := domain.AffiliateSettingsRecord{
		ID:                domain.SingletonID,
		MinimumPayout:     next.MinimumPayout,
		HoldPeriodDays:    next.HoldPeriodDays,
		SupportedCountry:  next.SupportedCountry,
		SupportedCurrency: next.SupportedCurrency,
		UpdatedAt:         p.clock.Now(),
	}
	if actor := strings.TrimSpace(req.ActorID); actor != "" {
		record.UpdatedBy = &actor
	}

	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"minimum_payout", "hold_period_days", "supported_country", "supported_currency", "updated_by", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return domain.AffiliateSettings{}, err
	}
	p.cache.Delete(cacheKey)

	p.log.Info("affiliate settings updated",
		zap.Int64("minimum_payout", next.MinimumPayout),
		zap.Int("hold_period_days", next.HoldPeriodDays),
		zap.String("supported_country", next.SupportedCountry),
		zap.String("supported_currency", next.SupportedCurrency),
	)
	if p.auditSvc != nil {
		_ = p.auditSvc.AuditLog(ctx, "", nil, auditdomain.ActionSettingsUpdate, "affiliate_settings", nil, map[string]any{
			"before": current,
			"after":  next,
		})
	}
	return next, nil
}

func (p *provider) load(ctx context.Context, db *gorm.DB) (*domain.AffiliateSettingsRecord, error) {
	var record domain.AffiliateSettingsRecord
	err := db.WithContext(ctx).Where("id = ?", domain.SingletonID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func fromConfig(cfg config.AffiliateConfig) domain.AffiliateSettings {
	return domain.AffiliateSettings{
		MinimumPayout:     cfg.MinimumPayout,
		HoldPeriodDays:    cfg.HoldPeriodDays,
		SupportedCountry:  cfg.SupportedCountry,
		SupportedCurrency: cfg.SupportedCurrency,
	}
}

func fromRecord(r domain.AffiliateSettingsRecord) domain.AffiliateSettings {
	return domain.AffiliateSettings{
		MinimumPayout:     r.MinimumPayout,
		HoldPeriodDays:    r.HoldPeriodDays,
		SupportedCountry:  r.SupportedCountry,
		SupportedCurrency: r.SupportedCurrency,
	}
}

func validate(s domain.AffiliateSettings) error {
	if s.MinimumPayout < 0 {
		return domain.ErrInvalidMinimumPayout
	}
	if s.HoldPeriodDays < 0 {
		return domain.ErrInvalidHoldPeriod
	}
	if len(s.SupportedCountry) != 2 {
		return domain.ErrInvalidCountry
	}
	if len(s.SupportedCurrency) != 3 {
		return domain.ErrInvalidCurrency
	}
	return nil
}
