package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/audit/masking"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	transferdomain "github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const referralCodeMaxSlug = 24

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  affiliatedomain.Repository

	referralRepo referraldomain.Repository
	gateway      transferdomain.Gateway
	auditSvc     auditdomain.Service
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  affiliatedomain.Repository

	ReferralRepo referraldomain.Repository
	Gateway      transferdomain.Gateway `optional:"true"`
	AuditSvc     auditdomain.Service    `optional:"true"`
}

func NewService(p ServiceParam) affiliatedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("affiliate.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		referralRepo: p.ReferralRepo,
		gateway:      p.Gateway,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req affiliatedomain.CreateRequest) (affiliatedomain.Affiliate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidEmail
	}

	code := strings.TrimSpace(req.ReferralCode)
	if code != "" {
		if slug.Make(code) != strings.ToLower(code) {
			return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidReferralCode
		}
		code = strings.ToLower(code)
	} else {
		code = newReferralCode(name)
	}

	status := affiliatedomain.StatusPending
	if req.Activate {
		status = affiliatedomain.StatusActive
	}

	now := s.clock.Now()
	affiliate := affiliatedomain.Affiliate{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		Name:         name,
		Email:        email,
		ReferralCode: code,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, &affiliate); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return affiliatedomain.Affiliate{}, affiliatedomain.ErrReferralCodeTaken
		}
		return affiliatedomain.Affiliate{}, err
	}

	s.audit(ctx, auditdomain.ActionAffiliateCreate, affiliate.ID, map[string]any{
		"referral_code": affiliate.ReferralCode,
		"email":         masking.MaskEmail(affiliate.Email),
		"status":        string(affiliate.Status),
	})
	return affiliate, nil
}

func (s *Service) Get(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	affiliateID, err := parseID(id)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}
	affiliate, err := s.repo.FindByID(ctx, s.db, affiliateID)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}
	if affiliate == nil {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrNotFound
	}
	return *affiliate, nil
}

func (s *Service) ListActive(ctx context.Context) ([]affiliatedomain.Affiliate, error) {
	return s.repo.ListByStatus(ctx, s.db, affiliatedomain.StatusActive)
}

func (s *Service) Activate(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	return s.transition(ctx, id,
		[]affiliatedomain.Status{affiliatedomain.StatusPending, affiliatedomain.StatusSuspended},
		affiliatedomain.StatusActive,
		auditdomain.ActionAffiliateActivate,
	)
}

func (s *Service) Suspend(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	return s.transition(ctx, id,
		[]affiliatedomain.Status{affiliatedomain.StatusPending, affiliatedomain.StatusActive},
		affiliatedomain.StatusSuspended,
		auditdomain.ActionAffiliateSuspend,
	)
}

func (s *Service) transition(ctx context.Context, id string, from []affiliatedomain.Status, to affiliatedomain.Status, action string) (affiliatedomain.Affiliate, error) {
	affiliateID, err := parseID(id)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	var (
		updated  affiliatedomain.Affiliate
		previous affiliatedomain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if current == nil {
			return affiliatedomain.ErrNotFound
		}
		if current.Status == to {
			updated = *current
			return nil
		}

		rows, err := s.repo.UpdateStatus(ctx, tx, affiliateID, from, to, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return affiliatedomain.ErrInvalidStatusTransition
		}

		reloaded, err := s.repo.FindByID(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		updated = *reloaded
		previous = current.Status
		return nil
	})
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	if previous != "" {
		s.audit(ctx, action, affiliateID, map[string]any{
			"from_status": string(previous),
			"to_status":   string(to),
		})
	}
	return updated, nil
}

// Delete hard-deletes an affiliate. Without cascade it refuses when any
// referral exists; with cascade payouts, referrals and the payout account go
// in the same transaction.
func (s *Service) Delete(ctx context.Context, req affiliatedomain.DeleteRequest) error {
	affiliateID, err := parseID(req.ID)
	if err != nil {
		return err
	}

	var removed struct {
		Referrals int64
		Payouts   int64
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if current == nil {
			return affiliatedomain.ErrNotFound
		}

		referrals, err := s.referralRepo.CountByAffiliate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if referrals > 0 && !req.Cascade {
			return affiliatedomain.ErrHasReferrals
		}

		payouts := tx.WithContext(ctx).Exec(`DELETE FROM affiliate_payouts WHERE affiliate_id = ?`, affiliateID)
		if payouts.Error != nil {
			return payouts.Error
		}
		if err := tx.WithContext(ctx).Exec(`DELETE FROM affiliate_referrals WHERE affiliate_id = ?`, affiliateID).Error; err != nil {
			return err
		}
		if err := s.repo.DeletePayoutAccount(ctx, tx, affiliateID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, affiliateID); err != nil {
			return err
		}
		removed.Referrals = referrals
		removed.Payouts = payouts.RowsAffected
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Warn("affiliate deleted",
		zap.String("affiliate_id", affiliateID.String()),
		zap.Bool("cascade", req.Cascade),
		zap.Int64("referrals_removed", removed.Referrals),
		zap.Int64("payouts_removed", removed.Payouts),
	)
	s.audit(ctx, auditdomain.ActionAffiliateDelete, affiliateID, map[string]any{
		"cascade":           req.Cascade,
		"referrals_removed": removed.Referrals,
		"payouts_removed":   removed.Payouts,
	})
	return nil
}

func (s *Service) GetPayoutAccount(ctx context.Context, id string) (affiliatedomain.PayoutAccount, error) {
	affiliateID, err := parseID(id)
	if err != nil {
		return affiliatedomain.PayoutAccount{}, err
	}
	account, err := s.repo.FindPayoutAccount(ctx, s.db, affiliateID)
	if err != nil {
		return affiliatedomain.PayoutAccount{}, err
	}
	if account == nil {
		return affiliatedomain.PayoutAccount{}, affiliatedomain.ErrPayoutAccountNotFound
	}
	return *account, nil
}

func (s *Service) UpsertPayoutAccount(ctx context.Context, req affiliatedomain.UpsertPayoutAccountRequest) (affiliatedomain.PayoutAccount, error) {
	affiliateID, err := parseID(req.AffiliateID)
	if err != nil {
		return affiliatedomain.PayoutAccount{}, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = transferdomain.ProviderStripe
	}
	if provider != transferdomain.ProviderStripe && provider != transferdomain.ProviderSandbox {
		return affiliatedomain.PayoutAccount{}, affiliatedomain.ErrInvalidProvider
	}
	accountID := strings.TrimSpace(req.ProviderAccountID)
	if accountID == "" {
		return affiliatedomain.PayoutAccount{}, affiliatedomain.ErrInvalidProviderAccount
	}

	account := affiliatedomain.PayoutAccount{
		AffiliateID:       affiliateID,
		Provider:          provider,
		ProviderAccountID: accountID,
		PayoutsEnabled:    req.PayoutsEnabled,
		DetailsSubmitted:  req.DetailsSubmitted,
		Country:           strings.ToUpper(strings.TrimSpace(req.Country)),
		Currency:          strings.ToLower(strings.TrimSpace(req.Currency)),
	}
	return s.savePayoutAccount(ctx, account)
}

// SyncPayoutAccount refreshes the stored account flags from the gateway.
func (s *Service) SyncPayoutAccount(ctx context.Context, id string) (affiliatedomain.PayoutAccount, error) {
	if s.gateway == nil {
		return affiliatedomain.PayoutAccount{}, transferdomain.ErrNotConfigured
	}
	current, err := s.GetPayoutAccount(ctx, id)
	if err != nil {
		return affiliatedomain.PayoutAccount{}, err
	}

	status, err := s.gateway.GetAccount(ctx, current.ProviderAccountID)
	if err != nil {
		if errors.Is(err, transferdomain.ErrAccountNotFound) {
			return affiliatedomain.PayoutAccount{}, affiliatedomain.ErrPayoutAccountNotFound
		}
		return affiliatedomain.PayoutAccount{}, err
	}

	now := s.clock.Now()
	current.PayoutsEnabled = status.PayoutsEnabled
	current.DetailsSubmitted = status.DetailsSubmitted
	current.Country = strings.ToUpper(status.Country)
	current.Currency = strings.ToLower(status.Currency)
	current.SyncedAt = &now
	return s.savePayoutAccount(ctx, current)
}

func (s *Service) savePayoutAccount(ctx context.Context, account affiliatedomain.PayoutAccount) (affiliatedomain.PayoutAccount, error) {
	var saved affiliatedomain.PayoutAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.repo.FindByID(ctx, tx, account.AffiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return affiliatedomain.ErrNotFound
		}

		now := s.clock.Now()
		if account.ID == 0 {
			account.ID = s.genID.Generate()
			account.CreatedAt = now
		}
		account.UpdatedAt = now
		if err := s.repo.UpsertPayoutAccount(ctx, tx, &account); err != nil {
			return err
		}
		stored, err := s.repo.FindPayoutAccount(ctx, tx, account.AffiliateID)
		if err != nil {
			return err
		}
		saved = *stored
		return nil
	})
	if err != nil {
		return affiliatedomain.PayoutAccount{}, err
	}

	s.audit(ctx, auditdomain.ActionPayoutAccountUpsert, saved.AffiliateID, map[string]any{
		"provider":            saved.Provider,
		"provider_account_id": masking.MaskSecret(saved.ProviderAccountID),
		"payouts_enabled":     saved.PayoutsEnabled,
		"details_submitted":   saved.DetailsSubmitted,
		"country":             saved.Country,
		"currency":            saved.Currency,
	})
	return saved, nil
}

func (s *Service) audit(ctx context.Context, action string, affiliateID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := affiliateID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "affiliate", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, affiliatedomain.ErrInvalidID
	}
	return id, nil
}

func newReferralCode(name string) string {
	base := slug.Make(name)
	if len(base) > referralCodeMaxSlug {
		base = strings.Trim(base[:referralCodeMaxSlug], "-")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
