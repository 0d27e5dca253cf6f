package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/payments"
	"github.com/tanngo729/storefront-gateway/internal/platform/auth"
	"github.com/tanngo729/storefront-gateway/internal/platform/httpx"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
	"github.com/tanngo729/storefront-gateway/internal/services"
)

// PaymentHandlers terminates the gateway redirect-return flow.
type PaymentHandlers struct {
	bridge   *payments.Bridge
	checkout services.CheckoutService
	limiter  rateLimiter
}

// NewPaymentHandlers constructs payment return handlers. Return routes
// are rate limited per client address since they are reachable without
// a session header.
func NewPaymentHandlers(bridge *payments.Bridge, checkout services.CheckoutService) *PaymentHandlers {
	return &PaymentHandlers{
		bridge:   bridge,
		checkout: checkout,
		limiter:  newWindowLimiter(30, time.Minute, nil),
	}
}

// Routes mounts the return endpoints at the router root; the paths must
// match the return and cancel URLs handed to the gateway before redirect.
// The session is optional there: the redirect itself carries no token,
// but a client that forwards the return with its bearer token gets its
// checkout session resolved in the same call.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(auth.OptionalSession()).Get("/payment/vnpay/return", h.limited(h.handleReturn))
	r.With(auth.OptionalSession()).Get("/payment/vnpay/cancel", h.limited(h.handleCancel))
	r.Get("/api/v1/payment/pending", h.pending)
}

type returnResponse struct {
	Outcome    string     `json:"outcome"`
	OrderID    string     `json:"orderId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ReasonCode string     `json:"reasonCode,omitempty"`
	Order      *orderView `json:"order,omitempty"`
	Step       string     `json:"step,omitempty"`
}

func (h *PaymentHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	if query.Get(payments.ParamSource) != payments.SourceVNPay {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_return", "missing gateway return marker", http.StatusBadRequest))
		return
	}

	result, err := h.bridge.HandleReturn(ctx, query)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidReturn) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_return", "gateway return failed verification", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to reconcile gateway return", http.StatusBadGateway))
		return
	}

	resp := returnResponse{
		Outcome:    string(result.Outcome),
		OrderID:    result.OrderID,
		Reason:     result.Reason,
		ReasonCode: result.ReasonCode,
	}
	if result.Order.ID != "" {
		resp.Order = &orderView{
			ID:            result.Order.ID,
			TotalPrice:    result.Order.TotalPrice,
			Status:        string(result.Order.Status),
			PaymentStatus: string(result.Order.PaymentStatus),
			CreatedAt:     formatTime(result.Order.CreatedAt),
		}
	}
	if identity, ok := requestctx.IdentityFrom(ctx); ok && identity.UID != "" {
		if session, err := h.checkout.ResolveReturn(ctx, identity.UID, result); err == nil {
			resp.Step = string(session.Step)
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PaymentHandlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.bridge.HandleCancelReturn(ctx, r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to cancel pending payment", http.StatusBadGateway))
		return
	}
	resp := returnResponse{
		Outcome:    string(result.Outcome),
		OrderID:    result.OrderID,
		Reason:     result.Reason,
		ReasonCode: result.ReasonCode,
	}
	if identity, ok := requestctx.IdentityFrom(ctx); ok && identity.UID != "" {
		if session, err := h.checkout.ResolveReturn(ctx, identity.UID, result); err == nil {
			resp.Step = string(session.Step)
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// pending reports whether a gateway handoff marker exists, so a reloaded
// client can resume or cancel an interrupted payment.
func (h *PaymentHandlers) pending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	marker, ok, err := h.bridge.Pending(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to read pending payment state", http.StatusInternalServerError))
		return
	}
	if !ok {
		writeJSONResponse(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"pending": true,
		"orderId": marker.OrderID,
		"since":   formatTime(marker.CreatedAt),
	})
}

func (h *PaymentHandlers) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many return requests", http.StatusTooManyRequests))
			return
		}
		next(w, r)
	}
}
