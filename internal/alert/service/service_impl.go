package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/affiliatepay/internal/alert/domain"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	"github.com/smallbiznis/affiliatepay/internal/providers/email"
	"github.com/smallbiznis/affiliatepay/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Slack   slack.Provider   `optional:"true"`
	Email   email.Provider   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	slack      slack.Provider
	email      email.Provider
	channel    string
	recipients []string
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("alert.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		slack:      p.Slack,
		email:      p.Email,
		channel:    p.Cfg.Slack.Channel,
		recipients: p.Cfg.Email.AlertRecipients,
		metrics:    p.Metrics,
	}
}

func (s *Service) AlertPayoutBatchError(ctx context.Context, a domain.PayoutBatchAlert) error {
	batchID := strings.TrimSpace(a.BatchID)
	if batchID == "" {
		return domain.ErrInvalidBatchID
	}
	if !validSeverity(a.Severity) {
		return domain.ErrInvalidSeverity
	}

	message := FormatPayoutBatchMessage(a)
	fields := []zap.Field{
		zap.String("batch_id", batchID),
		zap.String("severity", string(a.Severity)),
		zap.Int("total_payouts", a.TotalPayouts),
		zap.Int("failed_count", a.FailedCount),
		zap.Int64("total_amount", a.TotalAmount),
	}
	if a.Severity == domain.SeverityCritical {
		s.log.Error("alert.payout_batch", fields...)
	} else {
		s.log.Warn("alert.payout_batch", fields...)
	}

	channels := s.deliver(ctx, a.Severity, "Payout batch "+batchID+" failures", message)
	return s.persist(ctx, domain.Alert{
		Type:     domain.TypePayoutBatchError,
		Severity: a.Severity,
		BatchID:  &batchID,
		Message:  message,
		Channels: channels,
		Metadata: datatypes.JSONMap{
			"total_payouts": a.TotalPayouts,
			"failed_count":  a.FailedCount,
			"total_amount":  a.TotalAmount,
			"error_count":   len(a.Errors),
		},
	})
}

func (s *Service) AlertLedgerDrift(ctx context.Context, a domain.LedgerDriftAlert) error {
	message := FormatLedgerDriftMessage(a)
	s.log.Warn("alert.ledger_drift",
		zap.String("affiliate_id", a.AffiliateID.String()),
		zap.String("batch_id", a.BatchID),
		zap.String("field", a.Field),
		zap.Int64("stored", a.Stored),
		zap.Int64("decrement", a.Decrement),
	)

	channels := s.deliver(ctx, domain.SeverityWarning, "Ledger drift", message)
	metadata := datatypes.JSONMap{
		"affiliate_id": a.AffiliateID.String(),
		"field":        a.Field,
		"stored":       a.Stored,
		"decrement":    a.Decrement,
	}
	if a.PayoutID != 0 {
		metadata["payout_id"] = a.PayoutID.String()
	}
	alert := domain.Alert{
		Type:     domain.TypeLedgerDrift,
		Severity: domain.SeverityWarning,
		Message:  message,
		Channels: channels,
		Metadata: metadata,
	}
	if batchID := strings.TrimSpace(a.BatchID); batchID != "" {
		alert.BatchID = &batchID
	}
	return s.persist(ctx, alert)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Alert, error) {
	switch req.Type {
	case "", domain.TypePayoutBatchError, domain.TypeLedgerDrift:
	default:
		return nil, domain.ErrInvalidType
	}
	return s.repo.List(ctx, s.db, domain.ListFilter{
		Type:    req.Type,
		BatchID: req.BatchID,
		Limit:   req.Limit,
	})
}

// deliver fans the message out and returns the channels that accepted it.
// Delivery failures are logged, never returned.
func (s *Service) deliver(ctx context.Context, severity domain.Severity, title string, message string) pq.StringArray {
	channels := pq.StringArray{domain.ChannelLog}

	if s.slack != nil {
		err := s.slack.Post(ctx, slack.Message{
			Channel:  s.channel,
			Title:    title,
			Text:     message,
			Severity: slack.Severity(severity),
		})
		switch {
		case errors.Is(err, slack.ErrDisabled):
		case err != nil:
			s.log.Warn("failed to post slack alert", zap.Error(err))
		default:
			channels = append(channels, domain.ChannelSlack)
		}
	}

	if severity == domain.SeverityCritical && s.email != nil && len(s.recipients) > 0 {
		body, err := renderEmail(title, message)
		if err == nil {
			err = s.email.Send(ctx, s.recipients, "[CRITICAL] "+title, body)
		}
		if err != nil {
			s.log.Warn("failed to email alert", zap.Error(err))
		} else {
			channels = append(channels, domain.ChannelEmail)
		}
	}
	return channels
}

func (s *Service) persist(ctx context.Context, alert domain.Alert) error {
	alert.ID = s.genID.Generate()
	alert.CreatedAt = s.clock.Now().UTC()
	if err := s.repo.Insert(ctx, s.db, &alert); err != nil {
		s.log.Warn("failed to persist alert", zap.String("type", string(alert.Type)), zap.Error(err))
		return err
	}
	s.metrics.RecordAlert(ctx, string(alert.Type), string(alert.Severity))
	return nil
}

func validSeverity(severity domain.Severity) bool {
	return severity == domain.SeverityWarning || severity == domain.SeverityCritical
}
