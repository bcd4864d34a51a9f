package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/commission/guard"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	referralRepo  referraldomain.Repository
	affiliateRepo affiliatedomain.Repository
	balances      balance.Aggregate
	settings      settingsdomain.Provider
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	ReferralRepo  referraldomain.Repository
	AffiliateRepo affiliatedomain.Repository
	Balances      balance.Aggregate
	Settings      settingsdomain.Provider
	AuditSvc      auditdomain.Service `optional:"true"`
	Metrics       *metrics.Metrics    `optional:"true"`
}

func NewService(p ServiceParam) commissiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("commission.service"),
		genID: p.GenID,
		clock: p.Clock,

		referralRepo:  p.ReferralRepo,
		affiliateRepo: p.AffiliateRepo,
		balances:      p.Balances,
		settings:      p.Settings,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
	}
}

// RecordCommission creates a pending referral, or a flagged one when a flag
// reason is given or the customer is the affiliate.
func (s *Service) RecordCommission(ctx context.Context, req commissiondomain.RecordCommissionRequest) (referraldomain.Referral, error) {
	affiliateID, err := parseID(req.AffiliateID, commissiondomain.ErrInvalidAffiliateID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return referraldomain.Referral{}, commissiondomain.ErrInvalidOrderID
	}
	if req.Amount <= 0 {
		return referraldomain.Referral{}, commissiondomain.ErrInvalidAmount
	}
	if req.FlagReason != nil && !req.FlagReason.Valid() {
		return referraldomain.Referral{}, commissiondomain.ErrInvalidFlagReason
	}

	var referral referraldomain.Referral
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.affiliateRepo.FindByIDForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return commissiondomain.ErrAffiliateNotFound
		}
		if affiliate.Status == affiliatedomain.StatusSuspended {
			return commissiondomain.ErrAffiliateSuspended
		}

		now := s.clock.Now()
		referral = referraldomain.Referral{
			ID:               s.genID.Generate(),
			AffiliateID:      affiliateID,
			OrderID:          orderID,
			CommissionAmount: req.Amount,
			Status:           referraldomain.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if reason := flagReasonFor(req, affiliate); reason != nil {
			referral.Status = referraldomain.StatusFlagged
			referral.FlagReason = reason
		}

		if err := s.referralRepo.Insert(ctx, tx, &referral); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return commissiondomain.ErrDuplicateReferral
			}
			return err
		}
		_, err = s.balances.Recalculate(ctx, tx, affiliateID)
		return err
	})
	if err != nil {
		return referraldomain.Referral{}, err
	}

	s.metrics.RecordCommission(ctx, string(referral.Status))
	metadata := map[string]any{
		"affiliate_id":      affiliateID.String(),
		"order_id":          orderID,
		"commission_amount": referral.CommissionAmount,
		"status":            string(referral.Status),
	}
	if referral.FlagReason != nil {
		metadata["flag_reason"] = string(*referral.FlagReason)
	}
	s.audit(ctx, req.ActorID, auditdomain.ActionReferralRecord, referral.ID, metadata)
	return referral, nil
}

func flagReasonFor(req commissiondomain.RecordCommissionRequest, affiliate *affiliatedomain.Affiliate) *referraldomain.FlagReason {
	if req.FlagReason != nil {
		reason := *req.FlagReason
		return &reason
	}
	customer := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if customer != "" && customer == strings.ToLower(affiliate.Email) {
		reason := referraldomain.FlagReasonSelfReferral
		return &reason
	}
	return nil
}

func (s *Service) Flag(ctx context.Context, req commissiondomain.FlagRequest) (referraldomain.Referral, error) {
	return s.transition(ctx, transition{
		referralID: req.ReferralID,
		actorID:    req.ActorID,
		action:     auditdomain.ActionReferralFlag,
		from:       guard.FlagFrom,
		to:         referraldomain.StatusFlagged,
		check: func(current referraldomain.Referral) error {
			return guard.EnsureCanFlag(current.Status, req.Reason)
		},
		values: func(now time.Time) map[string]any {
			return map[string]any{"flag_reason": req.Reason}
		},
		metadata: map[string]any{"flag_reason": string(req.Reason)},
	})
}

func (s *Service) Approve(ctx context.Context, req commissiondomain.ApproveRequest) (referraldomain.Referral, error) {
	return s.transition(ctx, transition{
		referralID: req.ReferralID,
		actorID:    req.ActorID,
		action:     auditdomain.ActionReferralApprove,
		from:       guard.ApproveFrom,
		to:         referraldomain.StatusApproved,
		check: func(current referraldomain.Referral) error {
			return guard.EnsureCanApprove(current.Status)
		},
		values: func(now time.Time) map[string]any {
			return map[string]any{"approved_at": now}
		},
	})
}

func (s *Service) Void(ctx context.Context, req commissiondomain.VoidRequest) (referraldomain.Referral, error) {
	notes := strings.TrimSpace(req.Notes)
	return s.transition(ctx, transition{
		referralID: req.ReferralID,
		actorID:    req.ActorID,
		action:     auditdomain.ActionReferralVoid,
		from:       guard.VoidFrom,
		to:         referraldomain.StatusVoid,
		check: func(current referraldomain.Referral) error {
			return guard.EnsureCanVoid(current.Status, notes)
		},
		values: func(now time.Time) map[string]any {
			values := map[string]any{"voided_at": now}
			if notes != "" {
				values["void_reason"] = notes
			}
			return values
		},
		metadata: map[string]any{"notes": notes},
	})
}

// Review settles a flagged referral. Approval clears the flag.
func (s *Service) Review(ctx context.Context, req commissiondomain.ReviewRequest) (referraldomain.Referral, error) {
	notes := strings.TrimSpace(req.Notes)
	decision := commissiondomain.Decision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	target := guard.ReviewTarget(decision)
	return s.transition(ctx, transition{
		referralID: req.ReferralID,
		actorID:    req.ActorID,
		action:     auditdomain.ActionReferralReview,
		from:       guard.ReviewFrom,
		to:         target,
		check: func(current referraldomain.Referral) error {
			return guard.EnsureCanReview(current.Status, decision, notes)
		},
		values: func(now time.Time) map[string]any {
			values := map[string]any{
				"review_notes": notes,
				"reviewed_at":  now,
			}
			if actor := strings.TrimSpace(req.ActorID); actor != "" {
				values["reviewed_by"] = actor
			}
			if decision == commissiondomain.DecisionApprove {
				values["approved_at"] = now
				values["flag_reason"] = nil
			} else {
				values["voided_at"] = now
				values["void_reason"] = notes
			}
			return values
		},
		metadata: map[string]any{"decision": string(decision), "notes": notes},
	})
}

type transition struct {
	referralID string
	actorID    string
	action     string
	from       []referraldomain.Status
	to         referraldomain.Status
	check      func(current referraldomain.Referral) error
	values     func(now time.Time) map[string]any
	metadata   map[string]any
}

func (s *Service) transition(ctx context.Context, t transition) (referraldomain.Referral, error) {
	referralID, err := parseID(t.referralID, commissiondomain.ErrInvalidReferralID)
	if err != nil {
		return referraldomain.Referral{}, err
	}

	var (
		updated  referraldomain.Referral
		previous referraldomain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.referralRepo.FindByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if current == nil {
			return commissiondomain.ErrReferralNotFound
		}
		if err := t.check(*current); err != nil {
			return err
		}

		now := s.clock.Now()
		values := t.values(now)
		values["status"] = t.to
		values["updated_at"] = now
		rows, err := s.referralRepo.UpdateIfStatus(ctx, tx, referralID, t.from, values)
		if err != nil {
			return err
		}
		if rows == 0 {
			return commissiondomain.ErrInvalidStateTransition
		}
		if _, err := s.balances.Recalculate(ctx, tx, current.AffiliateID); err != nil {
			return err
		}

		reloaded, err := s.referralRepo.FindByID(ctx, tx, referralID)
		if err != nil {
			return err
		}
		previous = current.Status
		updated = *reloaded
		return nil
	})
	if err != nil {
		return referraldomain.Referral{}, err
	}

	s.metrics.RecordCommissionTransition(ctx, string(previous), string(updated.Status))
	metadata := map[string]any{
		"affiliate_id": updated.AffiliateID.String(),
		"from_status":  string(previous),
		"to_status":    string(updated.Status),
		"amount":       updated.CommissionAmount,
	}
	for key, value := range t.metadata {
		metadata[key] = value
	}
	s.audit(ctx, t.actorID, t.action, referralID, metadata)
	return updated, nil
}

// AutoApprove approves every pending referral older than the hold period.
// Each referral commits on its own; a failure is reported and the rest
// continue.
func (s *Service) AutoApprove(ctx context.Context, req commissiondomain.AutoApproveRequest) (commissiondomain.AutoApproveResult, error) {
	hold, err := s.holdPeriod(ctx, req.HoldPeriod)
	if err != nil {
		return commissiondomain.AutoApproveResult{}, err
	}

	result := commissiondomain.AutoApproveResult{Cutoff: s.clock.Now().Add(-hold)}
	candidates, err := s.referralRepo.ListPendingCreatedBefore(ctx, s.db, result.Cutoff)
	if err != nil {
		return commissiondomain.AutoApproveResult{}, err
	}
	result.Scanned = len(candidates)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.autoApproveOne(ctx, candidate); err != nil {
			s.log.Warn("commission.auto_approve.item_failed",
				zap.String("referral_id", candidate.ID.String()),
				zap.Error(err),
			)
			result.Errors = append(result.Errors, commissiondomain.ItemError{
				ReferralID: candidate.ID.String(),
				Error:      err.Error(),
			})
			continue
		}
		result.Approved++
		s.metrics.RecordCommissionTransition(ctx, string(referraldomain.StatusPending), string(referraldomain.StatusApproved))
	}

	s.log.Info("commission.auto_approve.finish",
		zap.Time("cutoff", result.Cutoff),
		zap.Int("scanned", result.Scanned),
		zap.Int("approved", result.Approved),
		zap.Int("errors", len(result.Errors)),
	)
	if result.Approved > 0 || len(result.Errors) > 0 {
		s.audit(ctx, req.ActorID, auditdomain.ActionReferralAutoApprove, 0, map[string]any{
			"cutoff":      result.Cutoff.Format(time.RFC3339),
			"hold_period": hold.String(),
			"approved":    result.Approved,
			"errors":      len(result.Errors),
		})
	}
	return result, nil
}

func (s *Service) autoApproveOne(ctx context.Context, candidate referraldomain.Referral) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		rows, err := s.referralRepo.UpdateIfStatus(ctx, tx, candidate.ID, guard.ApproveFrom, map[string]any{
			"status":      referraldomain.StatusApproved,
			"approved_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return commissiondomain.ErrInvalidStateTransition
		}
		_, err = s.balances.Recalculate(ctx, tx, candidate.AffiliateID)
		return err
	})
}

func (s *Service) holdPeriod(ctx context.Context, override *time.Duration) (time.Duration, error) {
	if override != nil {
		if *override < 0 {
			return 0, commissiondomain.ErrInvalidHoldPeriod
		}
		return *override, nil
	}
	settings, err := s.settings.GetAffiliateSettings(ctx)
	if err != nil {
		return 0, err
	}
	return settings.HoldPeriod(), nil
}

func (s *Service) Get(ctx context.Context, id string) (referraldomain.Referral, error) {
	referralID, err := parseID(id, commissiondomain.ErrInvalidReferralID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	referral, err := s.referralRepo.FindByID(ctx, s.db, referralID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	if referral == nil {
		return referraldomain.Referral{}, commissiondomain.ErrReferralNotFound
	}
	return *referral, nil
}

func (s *Service) List(ctx context.Context, req commissiondomain.ListRequest) ([]referraldomain.Referral, error) {
	filter := referraldomain.ListFilter{Limit: req.Limit}
	if strings.TrimSpace(req.AffiliateID) != "" {
		affiliateID, err := parseID(req.AffiliateID, commissiondomain.ErrInvalidAffiliateID)
		if err != nil {
			return nil, err
		}
		filter.AffiliateID = &affiliateID
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &parsed
	}
	return s.referralRepo.List(ctx, s.db, filter)
}

func (s *Service) audit(ctx context.Context, actorID string, action string, referralID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var (
		actorType string
		actor     *string
		target    *string
	)
	if trimmed := strings.TrimSpace(actorID); trimmed != "" {
		actorType = string(auditdomain.ActorTypeUser)
		actor = &trimmed
	}
	if referralID != 0 {
		id := referralID.String()
		target = &id
	}
	if err := s.auditSvc.AuditLog(ctx, actorType, actor, action, "referral", target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func parseStatus(value string) (referraldomain.Status, error) {
	switch status := referraldomain.Status(value); status {
	case referraldomain.StatusPending,
		referraldomain.StatusApproved,
		referraldomain.StatusPaid,
		referraldomain.StatusVoid,
		referraldomain.StatusFlagged:
		return status, nil
	default:
		return "", commissiondomain.ErrInvalidStatus
	}
}

