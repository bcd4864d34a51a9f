package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/providers/pdf"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	"github.com/smallbiznis/affiliatepay/pkg/money"
	"go.uber.org/zap"
)

const (
	statementProgram = "Affiliate Program"
	dateLayout       = "2006-01-02"
)

func (s *Service) ListPayouts(ctx context.Context, req payoutdomain.ListPayoutsRequest) ([]payoutdomain.Payout, error) {
	filter := payoutdomain.ListFilter{
		BatchID: strings.TrimSpace(req.BatchID),
		Limit:   req.Limit,
	}
	if raw := strings.TrimSpace(req.AffiliateID); raw != "" {
		id, err := parseID(raw, payoutdomain.ErrInvalidAffiliate)
		if err != nil {
			return nil, err
		}
		filter.AffiliateID = &id
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := payoutdomain.Status(strings.ToLower(raw))
		switch status {
		case payoutdomain.StatusPending, payoutdomain.StatusPaid, payoutdomain.StatusFailed:
		default:
			return nil, payoutdomain.ErrInvalidStatus
		}
		filter.Status = &status
	}
	return s.payoutRepo.List(ctx, s.db, filter)
}

func (s *Service) GetPayout(ctx context.Context, id string) (payoutdomain.Payout, error) {
	payoutID, err := parseID(id, payoutdomain.ErrInvalidID)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	payout, err := s.payoutRepo.FindByID(ctx, s.db, payoutID)
	if err != nil {
		return payoutdomain.Payout{}, err
	}
	if payout == nil {
		return payoutdomain.Payout{}, payoutdomain.ErrNotFound
	}
	return *payout, nil
}

// Statement renders a PDF listing the referrals a payout covers, as pinned
// by its metadata.
func (s *Service) Statement(ctx context.Context, id string) ([]byte, error) {
	if s.pdf == nil {
		return nil, payoutdomain.ErrStatementDisabled
	}
	payout, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := payoutdomain.DecodeMetadata(payout.Notes)
	if err != nil {
		return nil, err
	}
	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, payout.AffiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, payoutdomain.ErrAffiliateNotFound
	}

	referrals := make(map[snowflake.ID]referraldomain.Referral, len(meta.Referrals))
	for _, share := range meta.Referrals {
		referral, err := s.referralRepo.FindByID(ctx, s.db, share.ID)
		if err != nil {
			return nil, err
		}
		if referral != nil {
			referrals[share.ID] = *referral
		}
	}

	data := pdf.StatementData{
		ProgramName:    statementProgram,
		PayoutID:       payout.ID.String(),
		BatchID:        payout.PayoutBatchID,
		Status:         string(payout.Status),
		PaymentMethod:  payout.PaymentMethod,
		Period:         fmt.Sprintf("%s to %s", meta.PeriodStart.Format(dateLayout), meta.PeriodEnd.AddDate(0, 0, -1).Format(dateLayout)),
		CreatedDate:    payout.CreatedAt.UTC().Format(dateLayout),
		PaidDate:       formatDate(payout.PaidAt),
		AffiliateName:  affiliate.Name,
		AffiliateEmail: affiliate.Email,
		ReferralCode:   affiliate.ReferralCode,
		Lines:          make([]pdf.StatementLine, 0, len(meta.Referrals)),
		Total:          money.Format(payout.Amount, payout.Currency),
	}
	if payout.TransferID != nil {
		data.TransferID = *payout.TransferID
	}
	if payout.Reference != nil {
		data.Reference = *payout.Reference
	}
	for _, share := range meta.Referrals {
		line := pdf.StatementLine{
			ReferralID: share.ID.String(),
			Amount:     money.Format(share.Amount, payout.Currency),
		}
		if referral, ok := referrals[share.ID]; ok {
			line.OrderID = referral.OrderID
			line.ApprovedOn = formatDate(referral.ApprovedAt)
		}
		data.Lines = append(data.Lines, line)
	}

	reader, err := s.pdf.GeneratePayoutStatement(ctx, data)
	if err != nil {
		s.log.Error("failed to render payout statement", zap.String("payout_id", data.PayoutID), zap.Error(err))
		return nil, err
	}
	if reader == nil {
		return nil, payoutdomain.ErrStatementDisabled
	}
	return io.ReadAll(reader)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}
