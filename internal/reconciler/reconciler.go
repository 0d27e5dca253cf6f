// Package reconciler turns rapid UI-driven cart edits into a minimal set
// of remote calls while keeping the displayed snapshot responsive.
package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/cartcache"
	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

const defaultDebounceDelay = 500 * time.Millisecond

var (
	errReconcilerMutatorRequired = errors.New("reconciler: mutator is required")
	errReconcilerCacheRequired   = errors.New("reconciler: cache is required")

	// ErrItemNotInCart indicates the edited product is not in the snapshot.
	ErrItemNotInCart = errors.New("reconciler: item not in cart")
)

// Mutator issues the remote cart mutations.
type Mutator interface {
	UpdateCartItem(ctx context.Context, productID string, quantity int) (domain.Cart, error)
	RemoveCartItem(ctx context.Context, productID string) (domain.Cart, error)
}

// Deps wires the reconciler dependencies.
type Deps struct {
	Mutator       Mutator
	Cache         *cartcache.Cache
	DebounceDelay time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Reconciler owns the keyed debounce table. Entries are keyed by user
// and product: for a single product only the last value a user enters
// inside a window is ever sent, and edits by different users or to
// different products are independent and unordered with respect to each
// other.
type Reconciler struct {
	mutator Mutator
	cache   *cartcache.Cache
	delay   time.Duration
	logger  func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	pending map[string]*pendingEdit
	closed  bool
}

type pendingEdit struct {
	timer    *time.Timer
	quantity int
}

// New constructs a Reconciler enforcing dependency validation.
func New(deps Deps) (*Reconciler, error) {
	if deps.Mutator == nil {
		return nil, errReconcilerMutatorRequired
	}
	if deps.Cache == nil {
		return nil, errReconcilerCacheRequired
	}
	delay := deps.DebounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Reconciler{
		mutator: deps.Mutator,
		cache:   deps.Cache,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*pendingEdit),
	}, nil
}

// SetQuantity applies the edit optimistically and schedules the remote
// update, debounced per product. Repeated edits inside the window reset
// the timer and only the final quantity is sent.
func (r *Reconciler) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	cart, ok := r.cache.Peek(ctx)
	if !ok {
		refreshed, err := r.cache.Get(ctx, false)
		if err != nil {
			return err
		}
		cart = refreshed
	}

	idx := indexOfItem(cart.Items, productID)
	if idx < 0 {
		return ErrItemNotInCart
	}

	// The UI clamps too, but the snapshot must never exceed the ceiling;
	// the remote service stays the final authority.
	if ceiling := cart.Items[idx].StockCeiling; ceiling > 0 && quantity > ceiling {
		quantity = ceiling
	}

	items := cloneItems(cart.Items)
	items[idx].Quantity = quantity
	cart.Items = items
	cart.TotalPrice = domain.TotalOf(items)
	r.cache.Apply(ctx, cart)

	r.schedule(ctx, productID, quantity)
	return nil
}

// Remove drops the row optimistically and fires the remote delete
// immediately; removal is not repeatable in quick succession, so there is
// nothing to coalesce. Any pending quantity edit for the product is
// cancelled first.
func (r *Reconciler) Remove(ctx context.Context, productID string) error {
	r.cancelPending(editKey(ctx, productID))

	cart, ok := r.cache.Peek(ctx)
	if ok {
		idx := indexOfItem(cart.Items, productID)
		if idx >= 0 {
			items := cloneItems(cart.Items)
			items = append(items[:idx], items[idx+1:]...)
			cart.Items = items
			cart.TotalPrice = domain.TotalOf(items)
			r.cache.Apply(ctx, cart)
		}
	}

	if _, err := r.mutator.RemoveCartItem(ctx, productID); err != nil {
		r.resync(ctx, "cart.remove_failed", productID, err)
		return err
	}

	r.cache.Invalidate(ctx)
	return nil
}

// Flush cancels the caller's pending debounced edits without sending
// them. Called on logout teardown; other users' edits are untouched.
func (r *Reconciler) Flush(ctx context.Context) {
	prefix := editKey(ctx, "")
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, edit := range r.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		edit.timer.Stop()
		delete(r.pending, key)
	}
}

// Close flushes pending edits and refuses further scheduling.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for key, edit := range r.pending {
		edit.timer.Stop()
		delete(r.pending, key)
	}
	r.mu.Unlock()
}

func (r *Reconciler) schedule(ctx context.Context, productID string, quantity int) {
	// The debounced send outlives the triggering request; carry the
	// identity forward so the remote call stays authenticated.
	sendCtx := context.Background()
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		sendCtx = requestctx.WithIdentity(sendCtx, identity)
	}
	sendCtx = requestctx.WithLogger(sendCtx, requestctx.Logger(ctx))

	key := editKey(ctx, productID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if edit, ok := r.pending[key]; ok {
		edit.quantity = quantity
		edit.timer.Reset(r.delay)
		return
	}

	edit := &pendingEdit{quantity: quantity}
	edit.timer = time.AfterFunc(r.delay, func() {
		r.fire(sendCtx, key, productID)
	})
	r.pending[key] = edit
}

func (r *Reconciler) fire(ctx context.Context, key, productID string) {
	r.mu.Lock()
	edit, ok := r.pending[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	quantity := edit.quantity
	r.mu.Unlock()

	if _, err := r.mutator.UpdateCartItem(ctx, productID, quantity); err != nil {
		r.resync(ctx, "cart.update_failed", productID, err)
		return
	}

	r.cache.Invalidate(ctx)
}

// resync discards the optimistic snapshot and refetches authoritative
// state; re-deriving the pre-edit cart is unsafe because intervening
// edits may have occurred.
func (r *Reconciler) resync(ctx context.Context, event, productID string, cause error) {
	r.logger(ctx, event, map[string]any{
		"productId": productID,
		"error":     cause.Error(),
	})
	r.cache.Invalidate(ctx)
	if _, err := r.cache.Get(ctx, true); err != nil {
		r.logger(ctx, "cart.resync_failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
	}
}

func (r *Reconciler) cancelPending(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if edit, ok := r.pending[key]; ok {
		edit.timer.Stop()
		delete(r.pending, key)
	}
}

// editKey namespaces a pending edit by the caller's user id so debounce
// windows never merge edits from different users.
func editKey(ctx context.Context, productID string) string {
	uid := ""
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		uid = identity.UID
	}
	return uid + "|" + productID
}

func indexOfItem(items []domain.CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	dup := make([]domain.CartItem, len(items))
	copy(dup, items)
	return dup
}
