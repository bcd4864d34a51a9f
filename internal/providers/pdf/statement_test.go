package pdf

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePayoutStatement(t *testing.T) {
	p := New()
	r, err := p.GeneratePayoutStatement(context.Background(), StatementData{
		PayoutID:      "1844",
		BatchID:       "BATCH-2025-W03",
		Status:        "paid",
		PaymentMethod: "stripe_transfer",
		TransferID:    "tr_123",
		Period:        "2025-01-12 to 2025-01-19",
		AffiliateName: "Grace Hopper",
		Lines: []StatementLine{
			{ReferralID: "1", OrderID: "order-1", ApprovedOn: "2025-01-10", Amount: "$30.00"},
			{ReferralID: "2", OrderID: "order-2", ApprovedOn: "2025-01-11", Amount: "$25.00"},
		},
		Total: "$55.00",
	})
	require.NoError(t, err)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestGeneratePayoutStatementRequiresPayoutID(t *testing.T) {
	_, err := New().GeneratePayoutStatement(context.Background(), StatementData{})
	require.ErrorIs(t, err, ErrMissingPayoutID)
}
