// Package cartcache holds the client-side cart snapshots behind a TTL.
// Snapshots are keyed by the authenticated user carried in the request
// context; the cache is the single owner of each snapshot and all
// mutation enters through the reconciler, which invalidates on success.
package cartcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

const defaultTTL = 30 * time.Second

var (
	errCacheFetcherRequired = errors.New("cartcache: fetcher is required")
	errCacheClockRequired   = errors.New("cartcache: clock is required")
)

// Fetcher loads the authoritative cart from the remote service.
type Fetcher interface {
	GetCart(ctx context.Context) (domain.Cart, error)
}

// Deps wires the cache dependencies.
type Deps struct {
	Fetcher Fetcher
	TTL     time.Duration
	Clock   func() time.Time
}

// Cache holds one TTL-bounded cart snapshot per user. The remote service
// authenticates each fetch with the caller's bearer token, so snapshots
// must never cross user boundaries.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*snapshot

	subMu  sync.Mutex
	nextID int
	subs   map[int]func()
}

type snapshot struct {
	cart      domain.Cart
	fetchedAt time.Time
}

// New constructs a Cache enforcing dependency validation.
func New(deps Deps) (*Cache, error) {
	if deps.Fetcher == nil {
		return nil, errCacheFetcherRequired
	}
	if deps.Clock == nil {
		return nil, errCacheClockRequired
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		fetcher: deps.Fetcher,
		ttl:     ttl,
		now:     func() time.Time { return deps.Clock().UTC() },
		entries: make(map[string]*snapshot),
		subs:    make(map[int]func()),
	}, nil
}

// userKey scopes a snapshot to the caller. Requests without an identity
// share the anonymous slot; the remote rejects their fetches anyway.
func userKey(ctx context.Context) string {
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		return identity.UID
	}
	return ""
}

// Get returns the caller's cached cart while it is fresh, otherwise
// fetches remotely and restamps. A fetch failure propagates without
// touching the cached value, so stale data survives transient errors.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (domain.Cart, error) {
	key := userKey(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && !forceRefresh && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.cart, nil
	}

	cart, err := c.fetcher.GetCart(ctx)
	if err != nil {
		return domain.Cart{}, err
	}

	entry := &snapshot{cart: cart, fetchedAt: c.now()}
	entry.cart.FetchedAt = entry.fetchedAt
	c.entries[key] = entry
	return entry.cart, nil
}

// Peek returns the caller's current snapshot without fetching, and
// whether one exists. The reconciler uses it as the base for optimistic
// updates.
func (c *Cache) Peek(ctx context.Context) (domain.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userKey(ctx)]
	if !ok {
		return domain.Cart{}, false
	}
	return entry.cart, true
}

// Apply replaces the caller's snapshot in place, keeping its freshness
// stamp. Only the reconciler calls this, for optimistic updates.
func (c *Cache) Apply(ctx context.Context, cart domain.Cart) {
	key := userKey(ctx)
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.cart = cart
	} else {
		c.entries[key] = &snapshot{cart: cart, fetchedAt: c.now()}
	}
	c.mu.Unlock()
	c.broadcast()
}

// Invalidate drops the caller's snapshot and broadcasts the change
// signal so observers (e.g. the header badge) refetch.
func (c *Cache) Invalidate(ctx context.Context) {
	c.dropKey(userKey(ctx))
}

// InvalidateUser drops the snapshot for a specific user id. The live
// event fold uses it when an order event names its owner.
func (c *Cache) InvalidateUser(uid string) {
	c.dropKey(uid)
}

// InvalidateAll drops every snapshot. Used when an event arrives without
// an owner and the affected user cannot be narrowed down.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*snapshot)
	c.mu.Unlock()
	c.broadcast()
}

func (c *Cache) dropKey(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.broadcast()
}

// SubscribeChanges registers a cart-changed observer and returns its
// unsubscribe func.
func (c *Cache) SubscribeChanges(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) broadcast() {
	c.subMu.Lock()
	observers := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		observers = append(observers, fn)
	}
	c.subMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
