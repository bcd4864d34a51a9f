// Package sandbox is an in-memory transfer gateway for local runs and tests.
// It honours idempotency keys the way a real gateway does: replaying a key
// returns the original transfer.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/transfer/domain"
)

var ErrKeyReuse = errors.New("idempotency_key_reused_with_different_request")

type Gateway struct {
	mu        sync.Mutex
	clock     clock.Clock
	seq       int
	transfers map[string]domain.Transfer
	requests  map[string]domain.TransferRequest
	accounts  map[string]domain.AccountStatus
	failures  map[string]error
	calls     int
}

func NewGateway(c clock.Clock) *Gateway {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Gateway{
		clock:     c,
		transfers: map[string]domain.Transfer{},
		requests:  map[string]domain.TransferRequest{},
		accounts:  map[string]domain.AccountStatus{},
		failures:  map[string]error{},
	}
}

// SetAccount registers a connected account returned by GetAccount.
func (g *Gateway) SetAccount(status domain.AccountStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[status.AccountID] = status
}

// FailDestination makes transfers to destination fail with err until cleared
// with a nil err.
func (g *Gateway) FailDestination(destination string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, destination)
		return
	}
	g.failures[destination] = err
}

func (g *Gateway) CreateTransfer(ctx context.Context, req domain.TransferRequest) (domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transfer{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.Transfer{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if existing, ok := g.transfers[req.IdempotencyKey]; ok {
		prev := g.requests[req.IdempotencyKey]
		if prev.Amount != req.Amount || prev.Destination != req.Destination {
			return domain.Transfer{}, ErrKeyReuse
		}
		return existing, nil
	}
	if err, ok := g.failures[req.Destination]; ok {
		return domain.Transfer{}, err
	}

	g.seq++
	tr := domain.Transfer{
		ID:          fmt.Sprintf("tr_sandbox_%06d", g.seq),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Destination: req.Destination,
		CreatedAt:   g.clock.Now(),
	}
	g.transfers[req.IdempotencyKey] = tr
	g.requests[req.IdempotencyKey] = req
	return tr, nil
}

func (g *Gateway) GetAccount(ctx context.Context, accountID string) (domain.AccountStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.accounts[accountID]
	if !ok {
		return domain.AccountStatus{}, domain.ErrAccountNotFound
	}
	return status, nil
}

// Transfers returns the distinct transfers created so far.
func (g *Gateway) Transfers() []domain.Transfer {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Transfer, 0, len(g.transfers))
	for _, tr := range g.transfers {
		out = append(out, tr)
	}
	return out
}

// Calls counts CreateTransfer invocations, including replays and failures.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

