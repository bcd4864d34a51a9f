package guard

import (
	"strings"

	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
)

// Source states accepted by each transition.
var (
	ApproveFrom = []referraldomain.Status{referraldomain.StatusPending}
	FlagFrom    = []referraldomain.Status{referraldomain.StatusPending}
	VoidFrom    = []referraldomain.Status{referraldomain.StatusPending, referraldomain.StatusApproved, referraldomain.StatusFlagged}
	ReviewFrom  = []referraldomain.Status{referraldomain.StatusFlagged}
)

func EnsureCanApprove(status referraldomain.Status) error {
	return ensureFrom(status, ApproveFrom)
}

func EnsureCanFlag(status referraldomain.Status, reason referraldomain.FlagReason) error {
	if !reason.Valid() {
		return commissiondomain.ErrInvalidFlagReason
	}
	return ensureFrom(status, FlagFrom)
}

// EnsureCanVoid rejects a flagged referral voided without notes; that path is
// a fraud-review decision and must be explained.
func EnsureCanVoid(status referraldomain.Status, notes string) error {
	if err := ensureFrom(status, VoidFrom); err != nil {
		return err
	}
	if status == referraldomain.StatusFlagged && strings.TrimSpace(notes) == "" {
		return commissiondomain.ErrNotesRequired
	}
	return nil
}

func EnsureCanReview(status referraldomain.Status, decision commissiondomain.Decision, notes string) error {
	switch decision {
	case commissiondomain.DecisionApprove, commissiondomain.DecisionVoid:
	default:
		return commissiondomain.ErrInvalidDecision
	}
	if err := ensureFrom(status, ReviewFrom); err != nil {
		return err
	}
	if strings.TrimSpace(notes) == "" {
		return commissiondomain.ErrNotesRequired
	}
	return nil
}

// ReviewTarget maps a review decision to the resulting status.
func ReviewTarget(decision commissiondomain.Decision) referraldomain.Status {
	if decision == commissiondomain.DecisionApprove {
		return referraldomain.StatusApproved
	}
	return referraldomain.StatusVoid
}

func ensureFrom(status referraldomain.Status, allowed []referraldomain.Status) error {
	for _, s := range allowed {
		if s == status {
			return nil
		}
	}
	return commissiondomain.ErrInvalidStateTransition
}
