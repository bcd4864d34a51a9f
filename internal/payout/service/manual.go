package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordManualPayout settles every approved unpaid referral of one affiliate
// that was paid outside the transfer gateway. The paid payout record, the
// referral updates and the balance move commit together. It is refused while
// a transfer payout for the affiliate is still pending.
func (s *Service) RecordManualPayout(ctx context.Context, req payoutdomain.ManualPayoutRequest) (payoutdomain.Payout, error) {
	affiliateID, err := parseID(req.AffiliateID, payoutdomain.ErrInvalidAffiliate)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !slices.Contains(payoutdomain.ManualPaymentMethods, method) {
		return payoutdomain.Payout{}, payoutdomain.ErrInvalidMethod
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return payoutdomain.Payout{}, payoutdomain.ErrAmountMismatch
	}
	reference := strings.TrimSpace(req.Reference)
	actorID := strings.TrimSpace(req.ActorID)

	settings, err := s.settings.GetAffiliateSettings(ctx)
	if err != nil {
		return payoutdomain.Payout{}, fmt.Errorf("load affiliate settings: %w", err)
	}
	currency := strings.ToLower(strings.TrimSpace(settings.SupportedCurrency))
	if currency == "" {
		currency = defaultCurrency
	}

	var (
		payout    payoutdomain.Payout
		drifts    []balance.Drift
		referrals int
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.affiliateRepo.FindByIDForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return payoutdomain.ErrAffiliateNotFound
		}
		if affiliate.Status == affiliatedomain.StatusSuspended {
			return payoutdomain.ErrAffiliateSuspended
		}

		open, err := s.referralRepo.ListApprovedUnpaid(ctx, tx, []snowflake.ID{affiliateID})
		if err != nil {
			return err
		}
		ids := make([]snowflake.ID, 0, len(open))
		for _, referral := range open {
			ids = append(ids, referral.ID)
		}
		locked, err := s.referralRepo.LockApprovedUnpaid(ctx, tx, affiliateID, ids)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return payoutdomain.ErrNothingToPay
		}
		// A pending transfer payout already covers these referrals.
		pending, err := s.payoutRepo.FindPendingByAffiliate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if pending != nil {
			return fmt.Errorf("%w: payout %s from %s", payoutdomain.ErrPayoutPending, pending.ID, pending.PayoutBatchID)
		}

		now := s.clock.Now()
		period := payoutdomain.BatchPeriod(now)
		payout.ID = s.genID.Generate()
		batchID := payoutdomain.ManualBatchID(payout.ID)
		meta := payoutdomain.PayoutMetadata{
			Version:     payoutdomain.MetadataVersion,
			BatchID:     batchID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			Referrals:   make([]payoutdomain.ReferralShare, 0, len(locked)),
			Reference:   reference,
			ManualNotes: strings.TrimSpace(req.Notes),
		}
		for _, referral := range locked {
			meta.Referrals = append(meta.Referrals, payoutdomain.ReferralShare{ID: referral.ID, Amount: referral.CommissionAmount})
			meta.CreatedAmount += referral.CommissionAmount
		}
		referrals = len(meta.Referrals)
		if req.Amount != nil && *req.Amount != meta.CreatedAmount {
			return fmt.Errorf("%w: approved total is %d", payoutdomain.ErrAmountMismatch, meta.CreatedAmount)
		}
		notes, err := meta.Encode()
		if err != nil {
			return err
		}

		payout = payoutdomain.Payout{
			ID:             payout.ID,
			AffiliateID:    affiliateID,
			Amount:         meta.CreatedAmount,
			Currency:       currency,
			PaymentMethod:  method,
			Status:         payoutdomain.StatusPaid,
			PayoutBatchID:  batchID,
			IdempotencyKey: payoutdomain.IdempotencyKey(batchID, affiliateID),
			Notes:          notes,
			CreatedAt:      now,
			PaidAt:         &now,
			UpdatedAt:      now,
		}
		if reference != "" {
			payout.Reference = &reference
		}
		if actorID != "" {
			payout.CreatedBy = &actorID
		}
		if err := s.payoutRepo.Insert(ctx, tx, &payout); err != nil {
			return err
		}

		marked, err := s.referralRepo.MarkPaid(ctx, tx, affiliateID, meta.ReferralIDs(), payout.ID, now)
		if err != nil {
			return err
		}
		if marked != int64(len(meta.Referrals)) {
			return fmt.Errorf("%w: marked %d of %d referrals", payoutdomain.ErrReferralSetChanged, marked, len(meta.Referrals))
		}

		_, drifts, err = s.balances.ApplyPayout(ctx, tx, affiliateID, payout.Amount)
		return err
	})
	if err != nil {
		return payoutdomain.Payout{}, err
	}

	s.log.Info("payout.manual.recorded",
		zap.String("payout_id", payout.ID.String()),
		zap.String("affiliate_id", affiliateID.String()),
		zap.String("method", method),
		zap.Int64("amount", payout.Amount),
	)
	s.metrics.RecordPayout(ctx, method, metrics.PayoutResultCompleted, payout.Amount)
	for _, d := range drifts {
		s.raiseDrift(ctx, driftEvent{drift: d, batchID: payout.PayoutBatchID, payoutID: payout.ID})
	}
	s.audit(ctx, actorID, auditdomain.ActionPayoutManual, "payout", payout.ID.String(), map[string]any{
		"affiliate_id":   affiliateID.String(),
		"payment_method": method,
		"amount":         payout.Amount,
		"reference":      reference,
		"referrals":      referrals,
	})
	return payout, nil
}
