package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/kvstore"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

// ErrGatewayUnreachable indicates the redirect URL could not be obtained;
// the temporary order has been compensated and no marker remains.
var ErrGatewayUnreachable = errors.New("payments: gateway unreachable")

type gatewayClient interface {
	CreateTemporaryOrder(ctx context.Context, draft remote.OrderDraft) (domain.Order, error)
	CancelTemporaryOrder(ctx context.Context, orderID string) error
	CreatePaymentURL(ctx context.Context, orderID, returnURL, cancelURL string) (string, error)
	GetPaymentStatus(ctx context.Context, orderID string) (domain.Order, error)
}

// BridgeDeps configures the gateway bridge.
type BridgeDeps struct {
	Client     gatewayClient
	Store      kvstore.Store
	HashSecret string
	ReturnURL  string
	CancelURL  string
	// MarkerMaxAge bounds how long a pending marker stays actionable.
	MarkerMaxAge time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Bridge owns the gateway handoff: temporary order creation, the durable
// pending markers, redirect-return reconciliation, and compensating
// cancellation when any step of the handoff breaks. Markers are recorded
// per user so concurrent handoffs never supersede each other.
type Bridge struct {
	client       gatewayClient
	store        kvstore.Store
	hashSecret   string
	returnURL    string
	cancelURL    string
	markerMaxAge time.Duration
	clock        func() time.Time
	log          func(ctx context.Context, event string, fields map[string]any)

	// markerMu serializes read-modify-write cycles on the marker table.
	markerMu sync.Mutex
}

// NewBridge validates dependencies and builds the bridge. The hash
// secret is required: an unsigned gateway return must never be trusted.
func NewBridge(deps BridgeDeps) (*Bridge, error) {
	if deps.Client == nil {
		return nil, errors.New("payments: gateway client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("payments: state store is required")
	}
	if strings.TrimSpace(deps.HashSecret) == "" {
		return nil, errors.New("payments: hash secret is required")
	}
	if deps.MarkerMaxAge <= 0 {
		deps.MarkerMaxAge = 15 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Bridge{
		client:       deps.Client,
		store:        deps.Store,
		hashSecret:   deps.HashSecret,
		returnURL:    deps.ReturnURL,
		cancelURL:    deps.CancelURL,
		markerMaxAge: deps.MarkerMaxAge,
		clock:        func() time.Time { return clock().UTC() },
		log:          logger,
	}, nil
}

// Started carries the handoff artifacts back to the caller.
type Started struct {
	Order       domain.Order
	RedirectURL string
}

// Start creates a temporary order, persists the caller's pending marker,
// and asks the remote service for the signed redirect URL. The marker is
// written before the URL request so an interruption between the two
// still leaves a recoverable trace. If the URL cannot be obtained the
// temporary order is cancelled and the marker cleared before the error
// is returned.
func (b *Bridge) Start(ctx context.Context, draft remote.OrderDraft) (Started, error) {
	owner := ownerKey(ctx)

	// A fresh attempt supersedes the caller's previous one; the old
	// temporary order is cancelled best-effort so it cannot be paid
	// twice. Other users' in-flight handoffs are untouched.
	if prev, ok, _ := b.Pending(ctx); ok {
		b.log(ctx, "payments.pending_superseded", map[string]any{"order_id": prev.OrderID})
		if err := b.client.CancelTemporaryOrder(ctx, prev.OrderID); err != nil {
			b.log(ctx, "payments.cancel_superseded_failed", map[string]any{
				"order_id": prev.OrderID,
				"error":    err.Error(),
			})
		}
		b.clearMarker(ctx, owner)
	}

	order, err := b.client.CreateTemporaryOrder(ctx, draft)
	if err != nil {
		return Started{}, err
	}

	marker := domain.PendingGatewayOrder{OrderID: order.ID, CreatedAt: b.clock()}
	if err := b.saveMarker(ctx, owner, marker); err != nil {
		// Without a durable marker an interrupted handoff would leak the
		// temporary order, so the handoff is aborted here.
		if cancelErr := b.client.CancelTemporaryOrder(ctx, order.ID); cancelErr != nil {
			b.log(ctx, "payments.cancel_after_marker_failure", map[string]any{
				"order_id": order.ID,
				"error":    cancelErr.Error(),
			})
		}
		return Started{}, err
	}

	redirect, err := b.client.CreatePaymentURL(ctx, order.ID, b.returnURL, b.cancelURL)
	if err != nil {
		if cancelErr := b.client.CancelTemporaryOrder(ctx, order.ID); cancelErr != nil {
			b.log(ctx, "payments.compensate_cancel_failed", map[string]any{
				"order_id": order.ID,
				"error":    cancelErr.Error(),
			})
		}
		b.clearMarker(ctx, owner)
		b.log(ctx, "payments.handoff_failed", map[string]any{"order_id": order.ID})
		return Started{}, errors.Join(ErrGatewayUnreachable, err)
	}

	b.log(ctx, "payments.handoff_started", map[string]any{"order_id": order.ID})
	return Started{Order: order, RedirectURL: redirect}, nil
}

// HandleReturn reconciles a gateway return. The signature is verified
// before anything else; return parameters are only ever treated as hints
// and the paid state comes exclusively from the server read. The owning
// marker is cleared on every verified return, success or failure.
func (b *Bridge) HandleReturn(ctx context.Context, query url.Values) (ReturnResult, error) {
	if !verifySecureHash(query, b.hashSecret) {
		b.log(ctx, "payments.return_signature_rejected", nil)
		return ReturnResult{}, ErrInvalidReturn
	}

	orderID := orderIDFromReturn(query)
	owner, marker, recorded := b.findMarker(ctx, orderID)
	if orderID == "" && recorded {
		orderID = marker.OrderID
	}
	if orderID == "" {
		return ReturnResult{}, ErrInvalidReturn
	}
	if recorded {
		defer b.clearMarker(ctx, owner)
	}

	code := strings.TrimSpace(query.Get(ParamResponseCode))
	status := strings.TrimSpace(query.Get(ParamTransactionStatus))

	if code != responseCodeSuccess || status != responseCodeSuccess {
		result := ReturnResult{
			OrderID:    orderID,
			Outcome:    ReturnFailed,
			ReasonCode: code,
			Reason:     failureReason(code),
		}
		if code == "24" {
			result.Outcome = ReturnCancelled
		}
		b.log(ctx, "payments.return_failed", map[string]any{
			"order_id":      orderID,
			"response_code": code,
		})
		// Best-effort release, but only of an order this bridge recorded.
		if recorded && marker.OrderID == orderID {
			if err := b.client.CancelTemporaryOrder(ctx, orderID); err != nil {
				b.log(ctx, "payments.cancel_after_failure_failed", map[string]any{
					"order_id": orderID,
					"error":    err.Error(),
				})
			}
		}
		return result, nil
	}

	order, err := b.client.GetPaymentStatus(ctx, orderID)
	if err != nil {
		// The hint said success but the authoritative read failed; the
		// order stays pending verification rather than being shown paid.
		b.log(ctx, "payments.status_verification_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return ReturnResult{
			OrderID:    orderID,
			Outcome:    ReturnFailed,
			ReasonCode: code,
			Reason:     "payment is awaiting verification",
		}, nil
	}

	result := ReturnResult{OrderID: orderID, ReasonCode: code, Order: order}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		result.Outcome = ReturnSuccess
	} else {
		result.Outcome = ReturnFailed
		result.Reason = "payment is awaiting verification"
	}
	b.log(ctx, "payments.return_reconciled", map[string]any{
		"order_id":       orderID,
		"payment_status": string(order.PaymentStatus),
	})
	return result, nil
}

// HandleCancelReturn processes the gateway's cancel redirect. The cancel
// URL carries no signature, so the query is never trusted: only an order
// id this bridge recorded in a marker is ever cancelled. A cancel naming
// an unknown order clears nothing.
func (b *Bridge) HandleCancelReturn(ctx context.Context, query url.Values) (ReturnResult, error) {
	owner, marker, recorded := b.findMarker(ctx, orderIDFromReturn(query))
	result := ReturnResult{
		Outcome:    ReturnCancelled,
		ReasonCode: "24",
		Reason:     failureReason("24"),
	}
	if !recorded {
		b.log(ctx, "payments.cancel_return_unmatched", nil)
		return result, nil
	}

	result.OrderID = marker.OrderID
	if err := b.client.CancelTemporaryOrder(ctx, marker.OrderID); err != nil {
		b.log(ctx, "payments.cancel_return_failed", map[string]any{
			"order_id": marker.OrderID,
			"error":    err.Error(),
		})
	}
	b.clearMarker(ctx, owner)
	return result, nil
}

// Pending loads the caller's durable marker, if any.
func (b *Bridge) Pending(ctx context.Context) (domain.PendingGatewayOrder, bool, error) {
	markers, err := b.loadMarkers(ctx)
	if err != nil {
		return domain.PendingGatewayOrder{}, false, err
	}
	marker, ok := markers[ownerKey(ctx)]
	return marker, ok, nil
}

// SweepStale cancels and clears every marker older than the configured
// bound. Cancellation is fire-and-forget: the marker is cleared even
// when the remote call fails, since a stale temporary order expires
// server-side.
func (b *Bridge) SweepStale(ctx context.Context) {
	markers, err := b.loadMarkers(ctx)
	if err != nil {
		return
	}
	for owner, marker := range markers {
		age := b.clock().Sub(marker.CreatedAt)
		if age <= b.markerMaxAge {
			continue
		}
		b.log(ctx, "payments.stale_marker_swept", map[string]any{
			"order_id": marker.OrderID,
			"age":      age.String(),
		})
		if err := b.client.CancelTemporaryOrder(ctx, marker.OrderID); err != nil {
			b.log(ctx, "payments.stale_cancel_failed", map[string]any{
				"order_id": marker.OrderID,
				"error":    err.Error(),
			})
		}
		b.clearMarker(ctx, owner)
	}
}

// findMarker resolves the marker a return refers to: the caller's own
// marker when an identity is present, otherwise the marker recording the
// given order id. The cancel redirect arrives without authentication, so
// the order-id lookup is what ties it back to its owner.
func (b *Bridge) findMarker(ctx context.Context, orderID string) (string, domain.PendingGatewayOrder, bool) {
	markers, err := b.loadMarkers(ctx)
	if err != nil {
		return "", domain.PendingGatewayOrder{}, false
	}
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		if marker, ok := markers[identity.UID]; ok {
			return identity.UID, marker, true
		}
	}
	if orderID != "" {
		for owner, marker := range markers {
			if marker.OrderID == orderID {
				return owner, marker, true
			}
		}
	}
	return "", domain.PendingGatewayOrder{}, false
}

func (b *Bridge) loadMarkers(ctx context.Context) (map[string]domain.PendingGatewayOrder, error) {
	raw, err := b.store.Get(ctx, kvstore.KeyPendingGatewayOrder)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return map[string]domain.PendingGatewayOrder{}, nil
		}
		return nil, err
	}
	markers := map[string]domain.PendingGatewayOrder{}
	if err := json.Unmarshal(raw, &markers); err != nil {
		// A corrupt marker table is unrecoverable; drop it.
		b.log(ctx, "payments.marker_table_corrupt", map[string]any{"error": err.Error()})
		if err := b.store.Delete(ctx, kvstore.KeyPendingGatewayOrder); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
			b.log(ctx, "payments.marker_clear_failed", map[string]any{"error": err.Error()})
		}
		return map[string]domain.PendingGatewayOrder{}, nil
	}
	for owner, marker := range markers {
		if marker.OrderID == "" {
			delete(markers, owner)
		}
	}
	return markers, nil
}

func (b *Bridge) saveMarker(ctx context.Context, owner string, marker domain.PendingGatewayOrder) error {
	b.markerMu.Lock()
	defer b.markerMu.Unlock()
	markers, err := b.loadMarkers(ctx)
	if err != nil {
		return err
	}
	markers[owner] = marker
	raw, err := json.Marshal(markers)
	if err != nil {
		return err
	}
	return b.store.Set(ctx, kvstore.KeyPendingGatewayOrder, raw)
}

func (b *Bridge) clearMarker(ctx context.Context, owner string) {
	b.markerMu.Lock()
	defer b.markerMu.Unlock()
	markers, err := b.loadMarkers(ctx)
	if err != nil {
		return
	}
	if _, ok := markers[owner]; !ok {
		return
	}
	delete(markers, owner)
	if len(markers) == 0 {
		if err := b.store.Delete(ctx, kvstore.KeyPendingGatewayOrder); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
			b.log(ctx, "payments.marker_clear_failed", map[string]any{"error": err.Error()})
		}
		return
	}
	raw, err := json.Marshal(markers)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, kvstore.KeyPendingGatewayOrder, raw); err != nil {
		b.log(ctx, "payments.marker_clear_failed", map[string]any{"error": err.Error()})
	}
}

func ownerKey(ctx context.Context) string {
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		return identity.UID
	}
	return ""
}
