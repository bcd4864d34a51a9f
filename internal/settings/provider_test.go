package settings

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/affiliatepay/internal/cache"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestProvider(t *testing.T) (domain.Provider, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.AffiliateSettingsRecord{}))

	return NewProvider(Params{
		DB:       db,
		Log:      zaptest.NewLogger(t),
		Clock:    clock.NewFakeClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
		Defaults: config.NewStaticAffiliateConfigHolder(config.DefaultAffiliateConfig()),
		Cache:    cache.NewTTLCache[string, domain.AffiliateSettings](),
	}), db
}

func TestGetAffiliateSettingsFallsBackToDefaults(t *testing.T) {
	p, _ := newTestProvider(t)

	got, err := p.GetAffiliateSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AffiliateSettings{
		MinimumPayout:     5000,
		HoldPeriodDays:    30,
		SupportedCountry:  "US",
		SupportedCurrency: "usd",
	}, got)
	assert.Equal(t, 30*24*time.Hour, got.HoldPeriod())
}

func TestUpdateAffiliateSettingsOverridesAndInvalidatesCache(t *testing.T) {
	p, db := newTestProvider(t)
	ctx := context.Background()

	_, err := p.GetAffiliateSettings(ctx)
	require.NoError(t, err)

	minimum := int64(2500)
	country := " ca "
	updated, err := p.UpdateAffiliateSettings(ctx, domain.UpdateRequest{MinimumPayout: &minimum, SupportedCountry: &country, ActorID: "7"})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), updated.MinimumPayout)
	assert.Equal(t, "CA", updated.SupportedCountry)

	got, err := p.GetAffiliateSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	var record domain.AffiliateSettingsRecord
	require.NoError(t, db.First(&record).Error)
	require.NotNil(t, record.UpdatedBy)
	assert.Equal(t, "7", *record.UpdatedBy)

	hold := 14
	_, err = p.UpdateAffiliateSettings(ctx, domain.UpdateRequest{HoldPeriodDays: &hold})
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&domain.AffiliateSettingsRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpdateAffiliateSettingsValidates(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	negative := int64(-1)
	_, err := p.UpdateAffiliateSettings(ctx, domain.UpdateRequest{MinimumPayout: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidMinimumPayout)

	currency := "dollars"
	_, err = p.UpdateAffiliateSettings(ctx, domain.UpdateRequest{SupportedCurrency: &currency})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
}
