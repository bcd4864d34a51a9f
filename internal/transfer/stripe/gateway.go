// Package stripe moves affiliate payouts through Stripe Connect transfers.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/affiliatepay/internal/transfer/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

type Gateway struct {
	client *client.API
	log    *zap.Logger
}

func NewGateway(secretKey string, log *zap.Logger) (*Gateway, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, domain.ErrNotConfigured
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)

	return &Gateway{
		client: sc,
		log:    log.Named("transfer.stripe"),
	}, nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, req domain.TransferRequest) (domain.Transfer, error) {
	if err := req.Validate(); err != nil {
		return domain.Transfer{}, err
	}

	params := &stripego.TransferParams{
		Amount:      stripego.Int64(req.Amount),
		Currency:    stripego.String(strings.ToLower(req.Currency)),
		Destination: stripego.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripego.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	tr, err := g.client.Transfers.New(params)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("failed to create transfer: %w", err)
	}

	g.log.Info("transfer created",
		zap.String("transfer_id", tr.ID),
		zap.Int64("amount", tr.Amount),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	out := domain.Transfer{
		ID:        tr.ID,
		Amount:    tr.Amount,
		Currency:  string(tr.Currency),
		CreatedAt: time.Unix(tr.Created, 0).UTC(),
	}
	if tr.Destination != nil {
		out.Destination = tr.Destination.ID
	}
	return out, nil
}

func (g *Gateway) GetAccount(ctx context.Context, accountID string) (domain.AccountStatus, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.AccountStatus{}, domain.ErrAccountNotFound
	}

	params := &stripego.AccountParams{}
	params.Context = ctx
	acct, err := g.client.Accounts.GetByID(accountID, params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripego.ErrorCodeResourceMissing {
			return domain.AccountStatus{}, domain.ErrAccountNotFound
		}
		return domain.AccountStatus{}, fmt.Errorf("failed to fetch account: %w", err)
	}

	return domain.AccountStatus{
		AccountID:        acct.ID,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
		Country:          acct.Country,
		Currency:         string(acct.DefaultCurrency),
	}, nil
}
