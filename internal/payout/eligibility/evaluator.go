// Package eligibility splits affiliates into those that can be paid this
// batch and those that cannot, with exactly one reason each.
package eligibility

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Eligible struct {
	Affiliate   affiliatedomain.Affiliate
	Account     affiliatedomain.PayoutAccount
	Referrals   []referraldomain.Referral
	TotalAmount int64
}

type Ineligible struct {
	Affiliate     affiliatedomain.Affiliate
	Reason        string
	PendingAmount int64
}

type Result struct {
	Eligible   []Eligible
	Ineligible []Ineligible
}

type Params struct {
	fx.In

	AffiliateRepo affiliatedomain.Repository
	ReferralRepo  referraldomain.Repository
}

type Evaluator struct {
	affiliateRepo affiliatedomain.Repository
	referralRepo  referraldomain.Repository
}

func NewEvaluator(p Params) *Evaluator {
	return &Evaluator{
		affiliateRepo: p.AffiliateRepo,
		referralRepo:  p.ReferralRepo,
	}
}

// Evaluate loads approved unpaid referrals and payout accounts for the given
// affiliates and classifies each. Affiliates with nothing owed appear in
// neither list.
func (e *Evaluator) Evaluate(ctx context.Context, db *gorm.DB, settings settingsdomain.AffiliateSettings, affiliates []affiliatedomain.Affiliate) (Result, error) {
	if len(affiliates) == 0 {
		return Result{}, nil
	}
	ids := make([]snowflake.ID, 0, len(affiliates))
	for _, affiliate := range affiliates {
		ids = append(ids, affiliate.ID)
	}

	referrals, err := e.referralRepo.ListApprovedUnpaid(ctx, db, ids)
	if err != nil {
		return Result{}, err
	}
	byAffiliate := make(map[snowflake.ID][]referraldomain.Referral, len(affiliates))
	for _, referral := range referrals {
		byAffiliate[referral.AffiliateID] = append(byAffiliate[referral.AffiliateID], referral)
	}

	accounts, err := e.affiliateRepo.FindPayoutAccounts(ctx, db, ids)
	if err != nil {
		return Result{}, err
	}
	accountByAffiliate := make(map[snowflake.ID]affiliatedomain.PayoutAccount, len(accounts))
	for _, account := range accounts {
		accountByAffiliate[account.AffiliateID] = account
	}

	var result Result
	for _, affiliate := range affiliates {
		owed := byAffiliate[affiliate.ID]
		total := sum(owed)
		if total == 0 {
			continue
		}

		var account *affiliatedomain.PayoutAccount
		if found, ok := accountByAffiliate[affiliate.ID]; ok {
			account = &found
		}
		if reason := Check(total, account, settings); reason != "" {
			result.Ineligible = append(result.Ineligible, Ineligible{
				Affiliate:     affiliate,
				Reason:        reason,
				PendingAmount: total,
			})
			continue
		}
		result.Eligible = append(result.Eligible, Eligible{
			Affiliate:   affiliate,
			Account:     *account,
			Referrals:   owed,
			TotalAmount: total,
		})
	}
	return result, nil
}

// Check returns the first failing reason in priority order, or "" when the
// affiliate can be paid. Account problems come before the threshold.
func Check(total int64, account *affiliatedomain.PayoutAccount, settings settingsdomain.AffiliateSettings) string {
	switch {
	case account == nil:
		return payoutdomain.ReasonNoPayoutAccount
	case !account.PayoutsEnabled:
		return payoutdomain.ReasonPayoutsNotEnabled
	case !account.DetailsSubmitted:
		return payoutdomain.ReasonDetailsNotSubmitted
	case !strings.EqualFold(account.Country, settings.SupportedCountry):
		return payoutdomain.ReasonCountryNotSupported
	case !strings.EqualFold(account.Currency, settings.SupportedCurrency):
		return payoutdomain.ReasonCurrencyNotSupported
	case total < settings.MinimumPayout:
		return payoutdomain.ReasonBelowMinimum
	default:
		return ""
	}
}

func sum(referrals []referraldomain.Referral) int64 {
	var total int64
	for _, referral := range referrals {
		total += referral.CommissionAmount
	}
	return total
}
