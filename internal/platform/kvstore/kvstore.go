package kvstore

import (
	"context"
	"errors"
	"sync"
)

// Well-known keys for state that must survive a full reload of the client.
const (
	// KeyPendingGatewayOrder holds the serialized PendingGatewayOrder marker.
	KeyPendingGatewayOrder = "payment.pending_gateway_order"
	// KeyPinnedNotifications holds the pinned notification id list.
	KeyPinnedNotifications = "notifications.pinned_ids"
	// KeyCheckoutDraft holds the saved shipping draft restored after a
	// cancelled gateway payment.
	KeyCheckoutDraft = "checkout.shipping_draft"
)

// ErrKeyNotFound indicates the requested key has no stored value.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Store is the small persisted key-value contract backing cross-reload
// state. Values are opaque bytes; callers own serialization. Every value
// is advisory and must be reconcilable against the server at any time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Memory is a volatile in-process Store used in tests and as a fallback.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Get returns the stored value or ErrKeyNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	dup := make([]byte, len(value))
	copy(dup, value)
	return dup, nil
}

// Set stores a copy of the value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := make([]byte, len(value))
	copy(dup, value)
	m.values[key] = dup
	return nil
}

// Delete removes the key; deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
