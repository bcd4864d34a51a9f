package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransferReplaysIdempotencyKey(t *testing.T) {
	g := NewGateway(clock.NewFakeClock(time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)))
	req := domain.TransferRequest{Amount: 5500, Currency: "usd", Destination: "acct_1", IdempotencyKey: "payout-BATCH-2025-W03-1"}

	first, err := g.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	second, err := g.CreateTransfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, g.Transfers(), 1)
	assert.Equal(t, 2, g.Calls())

	req.Amount = 6000
	_, err = g.CreateTransfer(context.Background(), req)
	assert.ErrorIs(t, err, ErrKeyReuse)
}

func TestCreateTransferFailureThenRecovery(t *testing.T) {
	g := NewGateway(nil)
	boom := errors.New("gateway down")
	g.FailDestination("acct_1", boom)
	req := domain.TransferRequest{Amount: 100, Currency: "usd", Destination: "acct_1", IdempotencyKey: "k"}

	_, err := g.CreateTransfer(context.Background(), req)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, g.Transfers())

	g.FailDestination("acct_1", nil)
	tr, err := g.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(100), tr.Amount)
}

func TestCreateTransferValidates(t *testing.T) {
	g := NewGateway(nil)
	_, err := g.CreateTransfer(context.Background(), domain.TransferRequest{Amount: 0, Currency: "usd", Destination: "acct", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetAccount(t *testing.T) {
	g := NewGateway(nil)
	_, err := g.GetAccount(context.Background(), "acct_missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	g.SetAccount(domain.AccountStatus{AccountID: "acct_1", PayoutsEnabled: true, DetailsSubmitted: true, Country: "US", Currency: "usd"})
	got, err := g.GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, got.PayoutsEnabled)
}
