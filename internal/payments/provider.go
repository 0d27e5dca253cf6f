package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

// ErrUnsupportedMethod is returned when the manager cannot locate a provider.
var ErrUnsupportedMethod = errors.New("payments: unsupported payment method")

// ConfirmResult is the outcome of handing an order draft to a provider.
// Either Order is terminal (direct methods) or RedirectURL is set and the
// browser must be handed to the gateway.
type ConfirmResult struct {
	Order       domain.Order
	RedirectURL string
}

// Handoff reports whether the result requires a browser redirect.
func (r ConfirmResult) Handoff() bool { return r.RedirectURL != "" }

// Provider defines the contract for payment method adapters.
type Provider interface {
	Kind() domain.PaymentMethodKind
	Confirm(ctx context.Context, draft remote.OrderDraft) (ConfirmResult, error)
}

// Manager coordinates provider selection by method code.
type Manager struct {
	providers     map[string]Provider
	defaultMethod string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultMethod overrides the method used when the caller does not
// name one.
func WithDefaultMethod(code string) ManagerOption {
	return func(m *Manager) {
		m.defaultMethod = strings.ToLower(strings.TrimSpace(code))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["cod"]; ok {
		m.defaultMethod = "cod"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the provider registered for the method code.
func (m *Manager) Resolve(code string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	key := strings.TrimSpace(strings.ToLower(code))
	if key == "" {
		key = m.defaultMethod
	}
	if provider, ok := m.providers[key]; ok {
		return key, provider, nil
	}
	return "", nil, ErrUnsupportedMethod
}

// Confirm delegates the draft to the resolved provider.
func (m *Manager) Confirm(ctx context.Context, method string, draft remote.OrderDraft) (ConfirmResult, error) {
	key, provider, err := m.Resolve(method)
	if err != nil {
		return ConfirmResult{}, err
	}
	draft.PaymentMethod = key
	return provider.Confirm(ctx, draft)
}

var methodNames = map[string]string{
	"cod":   "Cash on delivery",
	"vnpay": "VNPay",
}

// Methods lists the registered payment methods in stable order.
func (m *Manager) Methods() []domain.PaymentMethod {
	if m == nil {
		return nil
	}
	out := make([]domain.PaymentMethod, 0, len(m.providers))
	for code, provider := range m.providers {
		name := methodNames[code]
		if name == "" {
			name = code
		}
		out = append(out, domain.PaymentMethod{Code: code, Kind: provider.Kind(), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
