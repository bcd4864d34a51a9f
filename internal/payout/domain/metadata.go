package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const MetadataVersion = 1

type ReferralShare struct {
	ID     snowflake.ID `json:"id"`
	Amount int64        `json:"amount"`
}

// PayoutMetadata pins a payout record to the exact referrals and amount it
// was created for. Resumed payouts transfer CreatedAmount, never a
// recomputed total.
type PayoutMetadata struct {
	Version       int             `json:"version"`
	BatchID       string          `json:"batch_id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	CreatedAmount int64           `json:"created_amount"`
	Referrals     []ReferralShare `json:"referrals"`
	Reference     string          `json:"reference,omitempty"`
	ManualNotes   string          `json:"manual_notes,omitempty"`
}

func (m PayoutMetadata) Validate() error {
	if m.Version != MetadataVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedMetadata, m.Version)
	}
	if len(m.Referrals) == 0 {
		return fmt.Errorf("%w: empty referral set", ErrMalformedMetadata)
	}
	seen := make(map[snowflake.ID]struct{}, len(m.Referrals))
	var sum int64
	for _, share := range m.Referrals {
		if share.ID == 0 || share.Amount <= 0 {
			return fmt.Errorf("%w: invalid referral share", ErrMalformedMetadata)
		}
		if _, dup := seen[share.ID]; dup {
			return fmt.Errorf("%w: duplicate referral %s", ErrMalformedMetadata, share.ID)
		}
		seen[share.ID] = struct{}{}
		sum += share.Amount
	}
	if sum != m.CreatedAmount {
		return fmt.Errorf("%w: referral sum %d != created amount %d", ErrMalformedMetadata, sum, m.CreatedAmount)
	}
	return nil
}

func (m PayoutMetadata) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (m PayoutMetadata) ReferralIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(m.Referrals))
	for _, share := range m.Referrals {
		ids = append(ids, share.ID)
	}
	return ids
}

// DecodeMetadata parses and validates stored notes. Unknown fields are
// rejected.
func DecodeMetadata(notes string) (PayoutMetadata, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return PayoutMetadata{}, fmt.Errorf("%w: missing", ErrMalformedMetadata)
	}
	dec := json.NewDecoder(strings.NewReader(notes))
	dec.DisallowUnknownFields()
	var m PayoutMetadata
	if err := dec.Decode(&m); err != nil {
		return PayoutMetadata{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if dec.More() {
		return PayoutMetadata{}, fmt.Errorf("%w: trailing data", ErrMalformedMetadata)
	}
	if err := m.Validate(); err != nil {
		return PayoutMetadata{}, err
	}
	return m, nil
}
