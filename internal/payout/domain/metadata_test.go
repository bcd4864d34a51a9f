package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetadata() PayoutMetadata {
	return PayoutMetadata{
		Version:       MetadataVersion,
		BatchID:       "BATCH-2025-W03",
		PeriodStart:   time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC),
		CreatedAmount: 5500,
		Referrals:     []ReferralShare{{ID: 11, Amount: 3000}, {ID: 12, Amount: 2500}},
	}
}

func TestMetadataEncodeDecode(t *testing.T) {
	encoded, err := validMetadata().Encode()
	require.NoError(t, err)

	decoded, err := DecodeMetadata(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), decoded.CreatedAmount)
	assert.Len(t, decoded.ReferralIDs(), 2)
	assert.True(t, decoded.PeriodStart.Equal(validMetadata().PeriodStart))
}

func TestDecodeMetadataRejectsMalformed(t *testing.T) {
	mismatch := validMetadata()
	mismatch.CreatedAmount = 6000
	mismatchRaw := `{"version":1,"batch_id":"B","created_amount":6000,"referrals":[{"id":"11","amount":3000},{"id":"12","amount":2500}]}`

	cases := map[string]string{
		"empty":          "",
		"not json":       "paid via stripe",
		"legacy shape":   `{"referralIds":[1,2],"total":100}`,
		"wrong version":  `{"version":2,"batch_id":"B","created_amount":100,"referrals":[{"id":"1","amount":100}]}`,
		"no referrals":   `{"version":1,"batch_id":"B","created_amount":0,"referrals":[]}`,
		"sum mismatch":   mismatchRaw,
		"negative share": `{"version":1,"batch_id":"B","created_amount":-5,"referrals":[{"id":"1","amount":-5}]}`,
		"duplicate":      `{"version":1,"batch_id":"B","created_amount":200,"referrals":[{"id":"1","amount":100},{"id":"1","amount":100}]}`,
		"trailing":       `{"version":1,"batch_id":"B","created_amount":100,"referrals":[{"id":"1","amount":100}]} {}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMetadata(raw)
			assert.ErrorIs(t, err, ErrMalformedMetadata)
		})
	}

	_, err := mismatch.Encode()
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}
