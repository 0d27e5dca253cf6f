package payments

import (
	"context"
	"errors"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

// directOrderCreator submits a complete order in a single call.
type directOrderCreator interface {
	CreateOrder(ctx context.Context, draft remote.OrderDraft) (domain.Order, error)
}

// CODProvider submits cash-on-delivery orders directly; there is no
// gateway handoff and success is terminal.
type CODProvider struct {
	client directOrderCreator
}

// NewCODProvider constructs the direct provider.
func NewCODProvider(client directOrderCreator) (*CODProvider, error) {
	if client == nil {
		return nil, errors.New("payments: order creator is required")
	}
	return &CODProvider{client: client}, nil
}

// Kind reports the direct method kind.
func (p *CODProvider) Kind() domain.PaymentMethodKind { return domain.PaymentMethodDirect }

// Confirm builds and submits the full order payload in one call.
func (p *CODProvider) Confirm(ctx context.Context, draft remote.OrderDraft) (ConfirmResult, error) {
	order, err := p.client.CreateOrder(ctx, draft)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Order: order}, nil
}
