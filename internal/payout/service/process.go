package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	obslogger "github.com/smallbiznis/affiliatepay/internal/observability/logger"
	obstracing "github.com/smallbiznis/affiliatepay/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/payout/eligibility"
	transferdomain "github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outcome struct {
	result             payoutdomain.Result
	drifts             []driftEvent
	manualIntervention bool
}

// previewAffiliate reports what a real run would do without side effects. It
// follows the same claim as processAffiliate, so a resumed payout previews
// with the amount and referrals it will actually send.
func (s *Service) previewAffiliate(ctx context.Context, period payoutdomain.Period, candidate eligibility.Eligible) payoutdomain.Result {
	result := payoutdomain.Result{
		AffiliateID:   candidate.Affiliate.ID,
		AffiliateName: candidate.Affiliate.Name,
		Status:        payoutdomain.ResultSkipped,
		Amount:        candidate.TotalAmount,
		ReferralCount: len(candidate.Referrals),
		Reason:        dryRunReason,
	}
	existing, err := s.findClaim(ctx, candidate.Affiliate.ID, period.BatchID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if existing == nil {
		return result
	}
	result.PayoutID = &existing.ID
	switch existing.Status {
	case payoutdomain.StatusPaid:
		result.Status = payoutdomain.ResultAlreadyPaid
		result.Reason = ""
		result.Amount = existing.Amount
		result.ReferralCount = 0
		if existing.TransferID != nil {
			result.TransferID = *existing.TransferID
		}
	case payoutdomain.StatusFailed:
		result.Reason = payoutdomain.ReasonPayoutFailed
	case payoutdomain.StatusPending:
		result.Resumed = true
		result.Amount = existing.Amount
		meta, err := payoutdomain.DecodeMetadata(existing.Notes)
		if err != nil {
			result.Error = fmt.Sprintf("%s: %v", payoutdomain.MessageManualIntervention, err)
			return result
		}
		result.ReferralCount = len(meta.Referrals)
		if err := ensureClaimable(meta, candidate); err != nil {
			result.Error = fmt.Sprintf("%s: %v", payoutdomain.MessageManualIntervention, err)
		}
	}
	return result
}

// processAffiliate pays one eligible affiliate. Every failure is reported on
// the result; nothing here aborts the batch.
func (s *Service) processAffiliate(ctx context.Context, period payoutdomain.Period, currency string, candidate eligibility.Eligible) (out outcome) {
	affiliate := candidate.Affiliate
	log := obslogger.WithAffiliate(obslogger.WithBatch(s.log, period.BatchID), affiliate.ID.String())

	ctx, span := obstracing.StartSpan(ctx, "payout.affiliate", attribute.String("batch_id", period.BatchID))
	var spanErr error
	defer func() { obstracing.EndSpan(span, spanErr) }()

	out.result = payoutdomain.Result{
		AffiliateID:   affiliate.ID,
		AffiliateName: affiliate.Name,
	}
	fail := func(err error) outcome {
		spanErr = err
		out.result.Status = payoutdomain.ResultFailed
		if isManualIntervention(err) {
			out.manualIntervention = true
			out.result.Error = fmt.Sprintf("%s: %v", payoutdomain.MessageManualIntervention, err)
			log.Error("payout.affiliate.manual_intervention", zap.Error(err))
		} else {
			out.result.Error = err.Error()
			log.Warn("payout.affiliate.failed", zap.Error(err))
		}
		return out
	}

	payout, resumed, err := s.claimPayout(ctx, period, currency, candidate)
	if err != nil {
		return fail(err)
	}
	out.result.PayoutID = &payout.ID
	out.result.Amount = payout.Amount
	out.result.Resumed = resumed

	switch payout.Status {
	case payoutdomain.StatusPaid:
		out.result.Status = payoutdomain.ResultAlreadyPaid
		if payout.TransferID != nil {
			out.result.TransferID = *payout.TransferID
		}
		return out
	case payoutdomain.StatusFailed:
		// Abandoned by an operator; this batch's slot is used up.
		out.result.Status = payoutdomain.ResultSkipped
		out.result.Amount = candidate.TotalAmount
		out.result.Reason = payoutdomain.ReasonPayoutFailed
		return out
	}

	meta, err := payoutdomain.DecodeMetadata(payout.Notes)
	if err != nil {
		return fail(err)
	}
	if meta.CreatedAmount != payout.Amount {
		return fail(fmt.Errorf("%w: metadata amount %d != payout amount %d", payoutdomain.ErrMalformedMetadata, meta.CreatedAmount, payout.Amount))
	}
	out.result.ReferralCount = len(meta.Referrals)
	if err := ensureClaimable(meta, candidate); err != nil {
		return fail(err)
	}

	transfer, err := s.gateway.CreateTransfer(ctx, transferdomain.TransferRequest{
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Destination:    candidate.Account.ProviderAccountID,
		IdempotencyKey: payout.IdempotencyKey,
		Description:    "Affiliate payout " + payout.PayoutBatchID,
		Metadata: map[string]string{
			"payout_id":    payout.ID.String(),
			"affiliate_id": affiliate.ID.String(),
			"batch_id":     payout.PayoutBatchID,
			"period_start": meta.PeriodStart.UTC().Format(time.RFC3339),
			"period_end":   meta.PeriodEnd.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.recordAttempt(ctx, log, payout.ID, err)
		return fail(err)
	}

	drifts, err := s.reconcile(ctx, payout, meta, transfer.ID, period.BatchID)
	if err != nil {
		s.recordAttempt(ctx, log, payout.ID, err)
		return fail(err)
	}

	for _, d := range drifts {
		out.drifts = append(out.drifts, driftEvent{drift: d, batchID: payout.PayoutBatchID, payoutID: payout.ID})
	}
	out.result.Status = payoutdomain.ResultSuccess
	out.result.TransferID = transfer.ID
	log.Info("payout.affiliate.paid",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount", payout.Amount),
		zap.Int("referrals", len(meta.Referrals)),
		zap.Bool("resumed", resumed),
	)
	return out
}

// findClaim returns the payout a run for batchID would work on: the record
// created or settled in this batch, else the oldest pending record left by an
// earlier batch. Nil means a new record is needed.
func (s *Service) findClaim(ctx context.Context, affiliateID snowflake.ID, batchID string) (*payoutdomain.Payout, error) {
	existing, err := s.payoutRepo.FindByAffiliateBatch(ctx, s.db, affiliateID, batchID)
	if err != nil || existing != nil {
		return existing, err
	}
	return s.payoutRepo.FindOldestPendingOutside(ctx, s.db, affiliateID, batchID)
}

// claimPayout returns the payout this run should send, creating a pending
// record when findClaim has none.
func (s *Service) claimPayout(ctx context.Context, period payoutdomain.Period, currency string, candidate eligibility.Eligible) (*payoutdomain.Payout, bool, error) {
	affiliateID := candidate.Affiliate.ID

	existing, err := s.findClaim(ctx, affiliateID, period.BatchID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, existing.Status == payoutdomain.StatusPending, nil
	}

	created, err := s.createPending(ctx, period, currency, candidate)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// A concurrent writer created it first.
		existing, findErr := s.payoutRepo.FindByAffiliateBatch(ctx, s.db, affiliateID, period.BatchID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, true, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return created, false, nil
}

// createPending inserts the pending record together with the referral set it
// covers, locked so the set cannot move underneath it.
func (s *Service) createPending(ctx context.Context, period payoutdomain.Period, currency string, candidate eligibility.Eligible) (*payoutdomain.Payout, error) {
	affiliateID := candidate.Affiliate.ID
	ids := make([]snowflake.ID, 0, len(candidate.Referrals))
	for _, referral := range candidate.Referrals {
		ids = append(ids, referral.ID)
	}

	var payout payoutdomain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.referralRepo.LockApprovedUnpaid(ctx, tx, affiliateID, ids)
		if err != nil {
			return err
		}
		if len(locked) != len(ids) {
			return fmt.Errorf("%w: %d of %d referrals still approved", payoutdomain.ErrReferralSetChanged, len(locked), len(ids))
		}

		meta := payoutdomain.PayoutMetadata{
			Version:     payoutdomain.MetadataVersion,
			BatchID:     period.BatchID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			Referrals:   make([]payoutdomain.ReferralShare, 0, len(locked)),
		}
		for _, referral := range locked {
			meta.Referrals = append(meta.Referrals, payoutdomain.ReferralShare{ID: referral.ID, Amount: referral.CommissionAmount})
			meta.CreatedAmount += referral.CommissionAmount
		}
		notes, err := meta.Encode()
		if err != nil {
			return err
		}

		now := s.clock.Now()
		payout = payoutdomain.Payout{
			ID:             s.genID.Generate(),
			AffiliateID:    affiliateID,
			Amount:         meta.CreatedAmount,
			Currency:       currency,
			PaymentMethod:  payoutdomain.PaymentMethodStripeTransfer,
			Status:         payoutdomain.StatusPending,
			PayoutBatchID:  period.BatchID,
			IdempotencyKey: payoutdomain.IdempotencyKey(period.BatchID, affiliateID),
			Notes:          notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return s.payoutRepo.Insert(ctx, tx, &payout)
	})
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// ensureClaimable refuses to send money for referrals that are no longer
// approved and unpaid.
func ensureClaimable(meta payoutdomain.PayoutMetadata, candidate eligibility.Eligible) error {
	open := make(map[snowflake.ID]int64, len(candidate.Referrals))
	for _, referral := range candidate.Referrals {
		open[referral.ID] = referral.CommissionAmount
	}
	for _, share := range meta.Referrals {
		amount, ok := open[share.ID]
		if !ok {
			return fmt.Errorf("%w: referral %s is no longer approved and unpaid", payoutdomain.ErrReferralSetChanged, share.ID)
		}
		if amount != share.Amount {
			return fmt.Errorf("%w: referral %s amount changed", payoutdomain.ErrReferralSetChanged, share.ID)
		}
	}
	return nil
}

// reconcile commits a sent transfer: payout paid and settled in batchID, its
// referrals paid with one shared timestamp, balances moved. Any failure rolls
// all of it back.
func (s *Service) reconcile(ctx context.Context, payout *payoutdomain.Payout, meta payoutdomain.PayoutMetadata, transferID string, batchID string) ([]balance.Drift, error) {
	var drifts []balance.Drift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paidAt := s.clock.Now()
		if err := s.payoutRepo.RecordAttempt(ctx, tx, payout.ID, nil, paidAt); err != nil {
			return err
		}
		rows, err := s.payoutRepo.MarkPaid(ctx, tx, payout.ID, transferID, batchID, paidAt)
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("%w: payout %s is no longer pending", payoutdomain.ErrPayoutStateChanged, payout.ID)
		}

		ids := meta.ReferralIDs()
		locked, err := s.referralRepo.LockApprovedUnpaid(ctx, tx, payout.AffiliateID, ids)
		if err != nil {
			return err
		}
		if len(locked) != len(ids) {
			return fmt.Errorf("%w: %d of %d referrals still approved", payoutdomain.ErrReferralSetChanged, len(locked), len(ids))
		}
		marked, err := s.referralRepo.MarkPaid(ctx, tx, payout.AffiliateID, ids, payout.ID, paidAt)
		if err != nil {
			return err
		}
		if marked != int64(len(ids)) {
			return fmt.Errorf("%w: marked %d of %d referrals", payoutdomain.ErrReferralSetChanged, marked, len(ids))
		}

		_, drifts, err = s.balances.ApplyPayout(ctx, tx, payout.AffiliateID, payout.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

func (s *Service) recordAttempt(ctx context.Context, log *zap.Logger, payoutID snowflake.ID, cause error) {
	msg := cause.Error()
	if err := s.payoutRepo.RecordAttempt(context.WithoutCancel(ctx), s.db, payoutID, &msg, s.clock.Now()); err != nil {
		log.Warn("failed to record payout attempt", zap.String("payout_id", payoutID.String()), zap.Error(errors.Join(cause, err)))
	}
}
