package service

import (
	"context"
	"strings"

	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"go.uber.org/zap"
)

// FailPayout marks a pending transfer payout failed. Referrals are only
// marked paid at reconcile, so the ones it covered become payable again by
// a later batch or a manual payout.
func (s *Service) FailPayout(ctx context.Context, req payoutdomain.FailPayoutRequest) (payoutdomain.Payout, error) {
	id, err := parseID(req.PayoutID, payoutdomain.ErrInvalidID)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return payoutdomain.Payout{}, payoutdomain.ErrNotesRequired
	}
	actorID := strings.TrimSpace(req.ActorID)

	now := s.clock.Now()
	rows, err := s.payoutRepo.MarkFailed(ctx, s.db, id, notes, now)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	payout, err := s.payoutRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	if payout == nil {
		return payoutdomain.Payout{}, payoutdomain.ErrNotFound
	}
	if rows == 0 {
		return payoutdomain.Payout{}, payoutdomain.ErrPayoutNotPending
	}

	referrals := 0
	if meta, err := payoutdomain.DecodeMetadata(payout.Notes); err == nil {
		referrals = len(meta.Referrals)
	}
	s.log.Warn("payout.failed_by_operator",
		zap.String("payout_id", payout.ID.String()),
		zap.String("affiliate_id", payout.AffiliateID.String()),
		zap.String("batch_id", payout.PayoutBatchID),
		zap.Int64("amount", payout.Amount),
	)
	s.metrics.RecordPayout(ctx, payout.PaymentMethod, metrics.PayoutResultFailed, 0)
	s.audit(ctx, actorID, auditdomain.ActionPayoutFailed, "payout", payout.ID.String(), map[string]any{
		"affiliate_id": payout.AffiliateID.String(),
		"batch_id":     payout.PayoutBatchID,
		"amount":       payout.Amount,
		"attempts":     payout.Attempts,
		"referrals":    referrals,
		"notes":        notes,
	})
	return *payout, nil
}
