package cartcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

func userCtx(uid string) context.Context {
	return requestctx.WithIdentity(context.Background(), requestctx.Identity{UID: uid, Role: "customer"})
}

type stubFetcher struct {
	calls int
	cart  domain.Cart
	err   error
}

func (s *stubFetcher) GetCart(ctx context.Context) (domain.Cart, error) {
	s.calls++
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func testCart(total int64) domain.Cart {
	return domain.Cart{
		Items: []domain.CartItem{
			{ProductID: "p1", Name: "Ceramic mug", Quantity: 2, UnitPriceSnapshot: total / 2, StockCeiling: 10},
		},
		TotalPrice: total,
	}
}

func TestCacheServesFromCacheWithinTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("first Get returned error: %v", err)
	}
	now = now.Add(29 * time.Second)
	cart, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch within TTL, got %d", fetcher.calls)
	}
	if cart.TotalPrice != 200000 {
		t.Fatalf("unexpected total: %d", cart.TotalPrice)
	}
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("first Get returned error: %v", err)
	}
	now = now.Add(31 * time.Second)
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", fetcher.calls)
	}
}

func TestCacheForceRefreshBypassesTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("first Get returned error: %v", err)
	}
	if _, err := cache.Get(context.Background(), true); err != nil {
		t.Fatalf("forced Get returned error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected forced refetch, got %d calls", fetcher.calls)
	}
}

func TestCacheFetchFailureKeepsSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("first Get returned error: %v", err)
	}

	fetcher.err = errors.New("remote down")
	now = now.Add(time.Minute)
	if _, err := cache.Get(context.Background(), false); err == nil {
		t.Fatal("expected fetch error to propagate")
	}

	snapshot, valid := cache.Peek(context.Background())
	if !valid {
		t.Fatal("expected snapshot to remain valid after failed refresh")
	}
	if snapshot.TotalPrice != 200000 {
		t.Fatalf("snapshot mutated by failed refresh: %d", snapshot.TotalPrice)
	}
}

func TestCacheInvalidateForcesRefetchAndNotifies(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	notified := 0
	unsubscribe := cache.SubscribeChanges(func() { notified++ })
	defer unsubscribe()

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	cache.Invalidate(context.Background())
	if notified != 1 {
		t.Fatalf("expected 1 change notification, got %d", notified)
	}
	if _, valid := cache.Peek(context.Background()); valid {
		t.Fatal("expected snapshot to be invalid after Invalidate")
	}
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get after invalidate returned error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", fetcher.calls)
	}
}

func TestCacheApplyReplacesSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{cart: testCart(200000)}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	updated := testCart(500000)
	cache.Apply(context.Background(), updated)

	cart, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get after Apply returned error: %v", err)
	}
	if cart.TotalPrice != 500000 {
		t.Fatalf("expected applied snapshot to be served, got total %d", cart.TotalPrice)
	}
	if fetcher.calls != 1 {
		t.Fatalf("Apply must not trigger a fetch, got %d calls", fetcher.calls)
	}
}

func TestCacheUnsubscribeStopsNotifications(t *testing.T) {
	cache, err := New(Deps{
		Fetcher: &stubFetcher{},
		Clock:   time.Now,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	notified := 0
	unsubscribe := cache.SubscribeChanges(func() { notified++ })
	cache.Invalidate(context.Background())
	unsubscribe()
	cache.Invalidate(context.Background())

	if notified != 1 {
		t.Fatalf("expected notifications to stop after unsubscribe, got %d", notified)
	}
}

// identityFetcher answers with a cart derived from the calling identity,
// the way the remote service does with the forwarded bearer token.
type identityFetcher struct {
	carts map[string]domain.Cart
	calls int
}

func (f *identityFetcher) GetCart(ctx context.Context) (domain.Cart, error) {
	f.calls++
	identity, _ := requestctx.IdentityFrom(ctx)
	return f.carts[identity.UID], nil
}

func TestCacheKeepsSnapshotsPerUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &identityFetcher{carts: map[string]domain.Cart{
		"u-1": testCart(200000),
		"u-2": testCart(900000),
	}}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	first, err := cache.Get(userCtx("u-1"), false)
	if err != nil {
		t.Fatalf("Get for first user returned error: %v", err)
	}
	second, err := cache.Get(userCtx("u-2"), false)
	if err != nil {
		t.Fatalf("Get for second user returned error: %v", err)
	}
	if first.TotalPrice == second.TotalPrice {
		t.Fatal("second user was served the first user's snapshot")
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected one fetch per user, got %d", fetcher.calls)
	}

	// Still fresh: each user hits their own snapshot, not the other's.
	if cart, _ := cache.Get(userCtx("u-1"), false); cart.TotalPrice != 200000 {
		t.Fatalf("first user's snapshot changed: %d", cart.TotalPrice)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected cached reads, got %d fetches", fetcher.calls)
	}
}

func TestCacheInvalidateScopedToUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &identityFetcher{carts: map[string]domain.Cart{
		"u-1": testCart(200000),
		"u-2": testCart(900000),
	}}
	cache, err := New(Deps{
		Fetcher: fetcher,
		TTL:     30 * time.Second,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := cache.Get(userCtx("u-1"), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if _, err := cache.Get(userCtx("u-2"), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	cache.Invalidate(userCtx("u-1"))
	if _, valid := cache.Peek(userCtx("u-1")); valid {
		t.Fatal("expected first user's snapshot to be dropped")
	}
	if _, valid := cache.Peek(userCtx("u-2")); !valid {
		t.Fatal("second user's snapshot must survive another user's invalidate")
	}

	cache.InvalidateUser("u-2")
	if _, valid := cache.Peek(userCtx("u-2")); valid {
		t.Fatal("expected InvalidateUser to drop the named user's snapshot")
	}
}

func TestCacheInvalidateAllDropsEverySnapshot(t *testing.T) {
	fetcher := &identityFetcher{carts: map[string]domain.Cart{
		"u-1": testCart(200000),
		"u-2": testCart(900000),
	}}
	cache, err := New(Deps{Fetcher: fetcher, Clock: time.Now})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := cache.Get(userCtx("u-1"), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if _, err := cache.Get(userCtx("u-2"), false); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	cache.InvalidateAll()
	if _, valid := cache.Peek(userCtx("u-1")); valid {
		t.Fatal("expected all snapshots dropped")
	}
	if _, valid := cache.Peek(userCtx("u-2")); valid {
		t.Fatal("expected all snapshots dropped")
	}
}
