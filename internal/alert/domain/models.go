package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Type string

const (
	TypePayoutBatchError Type = "payout_batch_error"
	TypeLedgerDrift      Type = "ledger_drift"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Delivery channels recorded on each alert.
const (
	ChannelLog   = "log"
	ChannelSlack = "slack"
	ChannelEmail = "email"
)

// MaxListedErrors caps the error lines rendered into an alert message.
const MaxListedErrors = 10

// Alert is a persisted operator notification.
type Alert struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Type      Type              `gorm:"type:text;not null;index" json:"type"`
	Severity  Severity          `gorm:"type:text;not null" json:"severity"`
	BatchID   *string           `gorm:"type:text;index" json:"batch_id,omitempty"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Channels  pq.StringArray    `gorm:"type:text[]" json:"channels"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index" json:"created_at"`
}

func (Alert) TableName() string { return "alerts" }

// PayoutBatchAlert reports failed payouts of one batch run.
type PayoutBatchAlert struct {
	BatchID      string
	TotalPayouts int
	FailedCount  int
	TotalAmount  int64
	Errors       []string
	Severity     Severity
}

// LedgerDriftAlert reports a balance decrement that was clamped at zero.
type LedgerDriftAlert struct {
	AffiliateID snowflake.ID
	BatchID     string
	PayoutID    snowflake.ID
	Field       string
	Stored      int64
	Decrement   int64
}

type ListRequest struct {
	Type    Type
	BatchID string
	Limit   int
}

type ListFilter struct {
	Type    Type
	BatchID string
	Limit   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *Alert) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Alert, error)
}

type Service interface {
	AlertPayoutBatchError(ctx context.Context, alert PayoutBatchAlert) error
	AlertLedgerDrift(ctx context.Context, alert LedgerDriftAlert) error
	List(ctx context.Context, req ListRequest) ([]Alert, error)
}

var (
	ErrInvalidBatchID  = errors.New("invalid_batch_id")
	ErrInvalidSeverity = errors.New("invalid_severity")
	ErrInvalidType     = errors.New("invalid_alert_type")
)
