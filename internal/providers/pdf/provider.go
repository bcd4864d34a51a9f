package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GeneratePayoutStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GeneratePayoutStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	return nil, nil
}
