package service

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/affiliatepay/internal/alert/domain"
	"github.com/smallbiznis/affiliatepay/pkg/money"
)

// FormatPayoutBatchMessage renders the operator message for a batch alert.
// At most domain.MaxListedErrors errors are listed.
func FormatPayoutBatchMessage(a domain.PayoutBatchAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Payout batch %s: %d of %d payouts failed, %s paid.",
		strings.ToUpper(string(a.Severity)),
		a.BatchID,
		a.FailedCount,
		a.TotalPayouts,
		money.Format(a.TotalAmount, ""),
	)
	listed := a.Errors
	if len(listed) > domain.MaxListedErrors {
		listed = listed[:domain.MaxListedErrors]
	}
	for _, e := range listed {
		b.WriteString("\n- ")
		b.WriteString(e)
	}
	if rest := len(a.Errors) - len(listed); rest > 0 {
		fmt.Fprintf(&b, "\n… and %d more", rest)
	}
	return b.String()
}

func FormatLedgerDriftMessage(a domain.LedgerDriftAlert) string {
	msg := fmt.Sprintf("[WARNING] Ledger drift for affiliate %s: %s was %s, payout decrement %s; clamped to zero.",
		a.AffiliateID,
		a.Field,
		money.Format(a.Stored, ""),
		money.Format(a.Decrement, ""),
	)
	if a.BatchID != "" {
		msg += " Batch " + a.BatchID + "."
	}
	return msg
}
