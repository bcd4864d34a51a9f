package domain

import (
	"context"
	"errors"
	"time"
)

// AffiliateSettings are the payout rules in force.
type AffiliateSettings struct {
	MinimumPayout     int64  `json:"minimum_payout"`
	HoldPeriodDays    int    `json:"hold_period_days"`
	SupportedCountry  string `json:"supported_country"`
	SupportedCurrency string `json:"supported_currency"`
}

// HoldPeriod returns the hold period as a duration.
func (s AffiliateSettings) HoldPeriod() time.Duration {
	return time.Duration(s.HoldPeriodDays) * 24 * time.Hour
}

// AffiliateSettingsRecord is the single persisted override row.
type AffiliateSettingsRecord struct {
	ID                int64     `gorm:"primaryKey;autoIncrement:false"`
	MinimumPayout     int64     `gorm:"not null"`
	HoldPeriodDays    int       `gorm:"not null"`
	SupportedCountry  string    `gorm:"type:text;not null"`
	SupportedCurrency string    `gorm:"type:text;not null"`
	UpdatedBy         *string   `gorm:"type:text"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (AffiliateSettingsRecord) TableName() string { return "affiliate_settings" }

const SingletonID int64 = 1

type UpdateRequest struct {
	MinimumPayout     *int64  `json:"minimum_payout"`
	HoldPeriodDays    *int    `json:"hold_period_days"`
	SupportedCountry  *string `json:"supported_country"`
	SupportedCurrency *string `json:"supported_currency"`
	ActorID           string  `json:"-"`
}

// Provider is the Configuration Store read by the payout engine.
type Provider interface {
	GetAffiliateSettings(ctx context.Context) (AffiliateSettings, error)
	UpdateAffiliateSettings(ctx context.Context, req UpdateRequest) (AffiliateSettings, error)
}

var (
	ErrInvalidMinimumPayout = errors.New("invalid_minimum_payout")
	ErrInvalidHoldPeriod    = errors.New("invalid_hold_period")
	ErrInvalidCountry       = errors.New("invalid_supported_country")
	ErrInvalidCurrency      = errors.New("invalid_supported_currency")
)
