package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/kvstore"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

type stubGatewayClient struct {
	createTempFn func(ctx context.Context, draft remote.OrderDraft) (domain.Order, error)
	cancelFn     func(ctx context.Context, orderID string) error
	paymentURLFn func(ctx context.Context, orderID, returnURL, cancelURL string) (string, error)
	statusFn     func(ctx context.Context, orderID string) (domain.Order, error)

	cancelled []string
}

func (s *stubGatewayClient) CreateTemporaryOrder(ctx context.Context, draft remote.OrderDraft) (domain.Order, error) {
	if s.createTempFn != nil {
		return s.createTempFn(ctx, draft)
	}
	return domain.Order{ID: "order-1", PaymentStatus: domain.PaymentStatusAwaitingPayment}, nil
}

func (s *stubGatewayClient) CancelTemporaryOrder(ctx context.Context, orderID string) error {
	s.cancelled = append(s.cancelled, orderID)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, orderID)
	}
	return nil
}

func (s *stubGatewayClient) CreatePaymentURL(ctx context.Context, orderID, returnURL, cancelURL string) (string, error) {
	if s.paymentURLFn != nil {
		return s.paymentURLFn(ctx, orderID, returnURL, cancelURL)
	}
	return "https://sandbox.vnpayment.vn/pay?ref=" + orderID, nil
}

func (s *stubGatewayClient) GetPaymentStatus(ctx context.Context, orderID string) (domain.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, orderID)
	}
	return domain.Order{ID: orderID, PaymentStatus: domain.PaymentStatusPaid}, nil
}

func newTestBridge(t *testing.T, client *stubGatewayClient, store kvstore.Store, clock func() time.Time) *Bridge {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemory()
	}
	if clock == nil {
		clock = time.Now
	}
	bridge, err := NewBridge(BridgeDeps{
		Client:       client,
		Store:        store,
		HashSecret:   "s3cret",
		ReturnURL:    "https://shop.example/payment/vnpay/return",
		CancelURL:    "https://shop.example/payment/vnpay/cancel",
		MarkerMaxAge: 15 * time.Minute,
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("NewBridge returned error: %v", err)
	}
	return bridge
}

func markerTable(t *testing.T, store kvstore.Store) map[string]domain.PendingGatewayOrder {
	t.Helper()
	raw, err := store.Get(context.Background(), kvstore.KeyPendingGatewayOrder)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("store.Get returned error: %v", err)
	}
	var table map[string]domain.PendingGatewayOrder
	if err := json.Unmarshal(raw, &table); err != nil {
		t.Fatalf("marker table unmarshal failed: %v", err)
	}
	return table
}

func markerIn(t *testing.T, store kvstore.Store) (domain.PendingGatewayOrder, bool) {
	t.Helper()
	table := markerTable(t, store)
	if len(table) == 0 {
		return domain.PendingGatewayOrder{}, false
	}
	if len(table) > 1 {
		t.Fatalf("expected a single marker, table holds %d", len(table))
	}
	for _, marker := range table {
		return marker, true
	}
	return domain.PendingGatewayOrder{}, false
}

func TestStartPersistsMarkerAndReturnsRedirect(t *testing.T) {
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	started, err := bridge.Start(context.Background(), remote.OrderDraft{TotalPrice: 500000})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if started.RedirectURL == "" {
		t.Fatal("expected redirect URL")
	}
	marker, ok := markerIn(t, store)
	if !ok {
		t.Fatal("expected pending marker persisted")
	}
	if marker.OrderID != "order-1" {
		t.Fatalf("marker order = %q, want order-1", marker.OrderID)
	}
}

func TestStartPaymentURLFailureCompensates(t *testing.T) {
	client := &stubGatewayClient{
		paymentURLFn: func(ctx context.Context, orderID, returnURL, cancelURL string) (string, error) {
			return "", errors.New("gateway 502")
		},
	}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	_, err := bridge.Start(context.Background(), remote.OrderDraft{})
	if !errors.Is(err, ErrGatewayUnreachable) {
		t.Fatalf("expected ErrGatewayUnreachable, got %v", err)
	}
	if len(client.cancelled) != 1 || client.cancelled[0] != "order-1" {
		t.Fatalf("expected temporary order cancelled, got %v", client.cancelled)
	}
	if _, ok := markerIn(t, store); ok {
		t.Fatal("expected marker cleared after compensation")
	}
}

func TestStartSupersedesPreviousMarker(t *testing.T) {
	nextID := 0
	client := &stubGatewayClient{
		createTempFn: func(ctx context.Context, draft remote.OrderDraft) (domain.Order, error) {
			nextID++
			return domain.Order{ID: map[int]string{1: "order-a", 2: "order-b"}[nextID]}, nil
		},
	}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}

	if len(client.cancelled) != 1 || client.cancelled[0] != "order-a" {
		t.Fatalf("expected first temporary order cancelled, got %v", client.cancelled)
	}
	marker, ok := markerIn(t, store)
	if !ok || marker.OrderID != "order-b" {
		t.Fatalf("expected marker for order-b, got %+v ok=%v", marker, ok)
	}
}

func TestHandleReturnRejectsForgedSignature(t *testing.T) {
	client := &stubGatewayClient{}
	bridge := newTestBridge(t, client, nil, nil)

	query := successReturnQuery("order-1", "wrong-secret")
	_, err := bridge.HandleReturn(context.Background(), query)
	if !errors.Is(err, ErrInvalidReturn) {
		t.Fatalf("expected ErrInvalidReturn, got %v", err)
	}
}

func TestHandleReturnSuccessRequiresAuthoritativeRead(t *testing.T) {
	verified := false
	client := &stubGatewayClient{
		statusFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			verified = true
			return domain.Order{ID: orderID, PaymentStatus: domain.PaymentStatusPaid}, nil
		},
	}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	result, err := bridge.HandleReturn(ctx, successReturnQuery("order-1", "s3cret"))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if !verified {
		t.Fatal("success hint must be confirmed by the server read")
	}
	if result.Outcome != ReturnSuccess {
		t.Fatalf("outcome = %q, want success", result.Outcome)
	}
	if _, ok := markerIn(t, store); ok {
		t.Fatal("expected marker cleared after return")
	}
}

func TestHandleReturnSuccessHintWithUnpaidServerState(t *testing.T) {
	client := &stubGatewayClient{
		statusFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, PaymentStatus: domain.PaymentStatusAwaitingVerification}, nil
		},
	}
	bridge := newTestBridge(t, client, nil, nil)

	result, err := bridge.HandleReturn(context.Background(), successReturnQuery("order-1", "s3cret"))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Outcome == ReturnSuccess {
		t.Fatal("unconfirmed payment must not be reported as success")
	}
}

func TestHandleReturnCancellationCode(t *testing.T) {
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	client.cancelled = nil

	query := successReturnQuery("order-1", "")
	query.Set(ParamResponseCode, "24")
	query.Set(ParamTransactionStatus, "02")
	signQuery(query, "s3cret")

	result, err := bridge.HandleReturn(ctx, query)
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Outcome != ReturnCancelled {
		t.Fatalf("outcome = %q, want cancelled", result.Outcome)
	}
	if len(client.cancelled) != 1 {
		t.Fatalf("expected temporary order released, got %v", client.cancelled)
	}
	if _, ok := markerIn(t, store); ok {
		t.Fatal("expected marker cleared after cancellation")
	}
}

func TestHandleCancelReturnReleasesOrder(t *testing.T) {
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	client.cancelled = nil

	query := url.Values{}
	query.Set(ParamPaymentFailed, "true")
	result, err := bridge.HandleCancelReturn(ctx, query)
	if err != nil {
		t.Fatalf("HandleCancelReturn returned error: %v", err)
	}
	if result.Outcome != ReturnCancelled {
		t.Fatalf("outcome = %q, want cancelled", result.Outcome)
	}
	if len(client.cancelled) != 1 || client.cancelled[0] != "order-1" {
		t.Fatalf("expected pending order cancelled, got %v", client.cancelled)
	}
	if _, ok := markerIn(t, store); ok {
		t.Fatal("expected marker cleared")
	}
}

func TestSweepStaleRespectsAgeBound(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, func() time.Time { return now })

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	client.cancelled = nil

	now = now.Add(10 * time.Minute)
	bridge.SweepStale(ctx)
	if _, ok := markerIn(t, store); !ok {
		t.Fatal("marker inside the age bound must survive the sweep")
	}

	now = now.Add(10 * time.Minute)
	bridge.SweepStale(ctx)
	if _, ok := markerIn(t, store); ok {
		t.Fatal("expected stale marker swept")
	}
	if len(client.cancelled) != 1 {
		t.Fatalf("expected stale order cancelled, got %v", client.cancelled)
	}
}

func TestNewBridgeRequiresHashSecret(t *testing.T) {
	_, err := NewBridge(BridgeDeps{
		Client:     &stubGatewayClient{},
		Store:      kvstore.NewMemory(),
		HashSecret: "  ",
	})
	if err == nil {
		t.Fatal("expected error for blank hash secret")
	}
}

func TestStartKeepsHandoffsPerUser(t *testing.T) {
	nextID := 0
	client := &stubGatewayClient{
		createTempFn: func(ctx context.Context, draft remote.OrderDraft) (domain.Order, error) {
			nextID++
			return domain.Order{ID: map[int]string{1: "order-a", 2: "order-b"}[nextID]}, nil
		},
	}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	alice := requestctx.WithIdentity(context.Background(), requestctx.Identity{UID: "u-alice", Role: "customer"})
	bob := requestctx.WithIdentity(context.Background(), requestctx.Identity{UID: "u-bob", Role: "customer"})

	if _, err := bridge.Start(alice, remote.OrderDraft{}); err != nil {
		t.Fatalf("alice Start returned error: %v", err)
	}
	if _, err := bridge.Start(bob, remote.OrderDraft{}); err != nil {
		t.Fatalf("bob Start returned error: %v", err)
	}

	if len(client.cancelled) != 0 {
		t.Fatalf("one user's handoff must not supersede another's, cancelled %v", client.cancelled)
	}
	table := markerTable(t, store)
	if len(table) != 2 {
		t.Fatalf("expected two markers, got %d", len(table))
	}
	if table["u-alice"].OrderID != "order-a" || table["u-bob"].OrderID != "order-b" {
		t.Fatalf("unexpected marker table %+v", table)
	}

	marker, ok, err := bridge.Pending(alice)
	if err != nil || !ok {
		t.Fatalf("Pending(alice) = %v ok=%v", err, ok)
	}
	if marker.OrderID != "order-a" {
		t.Fatalf("alice pending order = %q, want order-a", marker.OrderID)
	}
}

func TestHandleCancelReturnIgnoresUnrecordedOrder(t *testing.T) {
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	query := url.Values{}
	query.Set(ParamTxnRef, "somebody-elses-order")
	result, err := bridge.HandleCancelReturn(context.Background(), query)
	if err != nil {
		t.Fatalf("HandleCancelReturn returned error: %v", err)
	}
	if result.Outcome != ReturnCancelled {
		t.Fatalf("outcome = %q, want cancelled", result.Outcome)
	}
	if result.OrderID != "" {
		t.Fatalf("unrecorded order must not be resolved, got %q", result.OrderID)
	}
	if len(client.cancelled) != 0 {
		t.Fatalf("unrecorded order must not be cancelled, got %v", client.cancelled)
	}
}

func TestHandleCancelReturnOnlyReleasesRecordedOrder(t *testing.T) {
	client := &stubGatewayClient{}
	store := kvstore.NewMemory()
	bridge := newTestBridge(t, client, store, nil)

	ctx := context.Background()
	if _, err := bridge.Start(ctx, remote.OrderDraft{}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	client.cancelled = nil

	query := url.Values{}
	query.Set(ParamTxnRef, "forged-order-id")
	result, err := bridge.HandleCancelReturn(ctx, query)
	if err != nil {
		t.Fatalf("HandleCancelReturn returned error: %v", err)
	}
	if result.OrderID != "order-1" {
		t.Fatalf("resolved order = %q, want the recorded order-1", result.OrderID)
	}
	if len(client.cancelled) != 1 || client.cancelled[0] != "order-1" {
		t.Fatalf("expected only the recorded order released, got %v", client.cancelled)
	}
}
