// Package domain defines the external transfer gateway used to move money to
// affiliates' connected accounts.
package domain

import (
	"context"
	"errors"
	"time"
)

const (
	ProviderStripe  = "stripe"
	ProviderSandbox = "sandbox"
)

// TransferRequest describes one outbound transfer. IdempotencyKey must be
// stable across retries of the same logical payout.
type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type Transfer struct {
	ID          string
	Amount      int64
	Currency    string
	Destination string
	CreatedAt   time.Time
}

// AccountStatus is the gateway view of a connected payout account.
type AccountStatus struct {
	AccountID        string
	PayoutsEnabled   bool
	DetailsSubmitted bool
	Country          string
	Currency         string
}

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

type Gateway interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	GetAccount(ctx context.Context, accountID string) (AccountStatus, error)
}

var (
	ErrNotConfigured   = errors.New("transfer_gateway_not_configured")
	ErrInvalidRequest  = errors.New("invalid_transfer_request")
	ErrAccountNotFound = errors.New("payout_account_not_found")
)

// Validate checks the fields every gateway requires.
func (r TransferRequest) Validate() error {
	if r.Amount <= 0 || r.Currency == "" || r.Destination == "" || r.IdempotencyKey == "" {
		return ErrInvalidRequest
	}
	return nil
}
