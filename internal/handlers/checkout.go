package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/httpx"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
	"github.com/tanngo729/storefront-gateway/internal/services"
)

// CheckoutHandlers drives the checkout session over HTTP.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.start)
	r.Get("/", h.session)
	r.Put("/shipping", h.submitShipping)
	r.Put("/payment-method", h.selectMethod)
	r.Post("/confirm", h.confirm)
	r.Delete("/", h.abandon)
}

type checkoutResponse struct {
	Step          string              `json:"step"`
	Cart          cartResponse        `json:"cart"`
	Shipping      domain.ShippingInfo `json:"shipping"`
	PaymentMethod string              `json:"paymentMethod,omitempty"`
	Methods       []paymentMethodView `json:"methods,omitempty"`
	Order         *orderView          `json:"order,omitempty"`
	RedirectURL   string              `json:"redirectUrl,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	Issues        map[string]any      `json:"issues,omitempty"`
}

type paymentMethodView struct {
	Code string `json:"code"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type orderView struct {
	ID            string `json:"id"`
	TotalPrice    int64  `json:"totalPrice"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

func buildCheckoutResponse(session services.CheckoutSession) checkoutResponse {
	resp := checkoutResponse{
		Step:          string(session.Step),
		Cart:          buildCartResponse(session.Cart),
		Shipping:      session.Shipping,
		PaymentMethod: session.PaymentMethod,
		RedirectURL:   session.RedirectURL,
		FailureReason: session.FailureReason,
	}
	for _, m := range session.Methods {
		resp.Methods = append(resp.Methods, paymentMethodView{
			Code: m.Code,
			Kind: string(m.Kind),
			Name: m.Name,
		})
	}
	if session.Order.ID != "" {
		resp.Order = &orderView{
			ID:            session.Order.ID,
			TotalPrice:    session.Order.TotalPrice,
			Status:        string(session.Order.Status),
			PaymentStatus: string(session.Order.PaymentStatus),
			CreatedAt:     formatTime(session.Order.CreatedAt),
		}
	}
	if session.Issues != nil {
		resp.Issues = map[string]any{
			"outOfStockItems":  session.Issues.OutOfStockItems,
			"unavailableItems": session.Issues.UnavailableItems,
			"emptyCart":        session.Issues.EmptyCart,
		}
	}
	return resp
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	session, err := h.checkout.Start(ctx, userID)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(session))
}

func (h *CheckoutHandlers) session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	session, err := h.checkout.Session(ctx, userID)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(session))
}

func (h *CheckoutHandlers) submitShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	var info domain.ShippingInfo
	if err := decodeBody(r, &info); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	session, err := h.checkout.SubmitShipping(ctx, userID, info)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(session))
}

type selectMethodRequest struct {
	Method string `json:"method"`
}

func (h *CheckoutHandlers) selectMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	var req selectMethodRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	session, err := h.checkout.SelectPaymentMethod(ctx, userID, req.Method)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(session))
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	session, err := h.checkout.Confirm(ctx, userID)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(session))
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	h.checkout.Abandon(ctx, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var fieldErrs services.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		fields := map[string]any{}
		for field, msg := range fieldErrs {
			fields[field] = msg
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_shipping_info", "shipping information is invalid", http.StatusUnprocessableEntity).WithDetails(fields))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "no checkout session; start one first", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", "cart is empty or failed validation", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "operation is not valid for the current checkout step", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed; retry or choose another method", http.StatusBadGateway))
	default:
		if status, code, ok := remoteStatus(err); ok {
			httpx.WriteError(ctx, w, httpx.NewError(code, "checkout operation failed", status))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout operation failed", http.StatusInternalServerError))
	}
}

func sessionUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}
