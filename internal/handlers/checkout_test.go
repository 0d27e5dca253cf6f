package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/payments"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
	"github.com/tanngo729/storefront-gateway/internal/services"
)

type stubCheckoutService struct {
	startFn          func(ctx context.Context, userID string) (services.CheckoutSession, error)
	sessionFn        func(ctx context.Context, userID string) (services.CheckoutSession, error)
	submitShippingFn func(ctx context.Context, userID string, info domain.ShippingInfo) (services.CheckoutSession, error)
	selectMethodFn   func(ctx context.Context, userID, method string) (services.CheckoutSession, error)
	confirmFn        func(ctx context.Context, userID string) (services.CheckoutSession, error)
	resolveReturnFn  func(ctx context.Context, userID string, result payments.ReturnResult) (services.CheckoutSession, error)
	abandoned        []string
}

func (s *stubCheckoutService) Start(ctx context.Context, userID string) (services.CheckoutSession, error) {
	if s.startFn != nil {
		return s.startFn(ctx, userID)
	}
	return services.CheckoutSession{Step: domain.StepShippingInfo}, nil
}

func (s *stubCheckoutService) Session(ctx context.Context, userID string) (services.CheckoutSession, error) {
	if s.sessionFn != nil {
		return s.sessionFn(ctx, userID)
	}
	return services.CheckoutSession{Step: domain.StepShippingInfo}, nil
}

func (s *stubCheckoutService) SubmitShipping(ctx context.Context, userID string, info domain.ShippingInfo) (services.CheckoutSession, error) {
	if s.submitShippingFn != nil {
		return s.submitShippingFn(ctx, userID, info)
	}
	return services.CheckoutSession{Step: domain.StepPaymentSelection, Shipping: info}, nil
}

func (s *stubCheckoutService) SelectPaymentMethod(ctx context.Context, userID, method string) (services.CheckoutSession, error) {
	if s.selectMethodFn != nil {
		return s.selectMethodFn(ctx, userID, method)
	}
	return services.CheckoutSession{Step: domain.StepPaymentSelection, PaymentMethod: method}, nil
}

func (s *stubCheckoutService) Confirm(ctx context.Context, userID string) (services.CheckoutSession, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, userID)
	}
	return services.CheckoutSession{Step: domain.StepConfirmed}, nil
}

func (s *stubCheckoutService) ResolveReturn(ctx context.Context, userID string, result payments.ReturnResult) (services.CheckoutSession, error) {
	if s.resolveReturnFn != nil {
		return s.resolveReturnFn(ctx, userID, result)
	}
	return services.CheckoutSession{Step: domain.StepConfirmed}, nil
}

func (s *stubCheckoutService) Abandon(ctx context.Context, userID string) {
	s.abandoned = append(s.abandoned, userID)
}

func newCheckoutRouter(svc services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(svc).Routes(r)
	return r
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := requestctx.WithIdentity(req.Context(), requestctx.Identity{UID: "u-1", Role: "customer"})
	return req.WithContext(ctx)
}

func TestStartCheckoutRequiresIdentity(t *testing.T) {
	r := newCheckoutRouter(&stubCheckoutService{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeJSONBody(t, rec); body["error"] != "unauthenticated" {
		t.Fatalf("error code = %v, want unauthenticated", body["error"])
	}
}

func TestStartCheckoutReturnsCreatedSession(t *testing.T) {
	r := newCheckoutRouter(&stubCheckoutService{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPost, "/", ""))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if body := decodeJSONBody(t, rec); body["step"] != string(domain.StepShippingInfo) {
		t.Fatalf("step = %v, want %s", body["step"], domain.StepShippingInfo)
	}
}

func TestStartCheckoutEmptyCartConflict(t *testing.T) {
	svc := &stubCheckoutService{
		startFn: func(ctx context.Context, userID string) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCheckoutCartNotReady
		},
	}
	r := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPost, "/", ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body := decodeJSONBody(t, rec); body["error"] != "cart_not_ready" {
		t.Fatalf("error code = %v, want cart_not_ready", body["error"])
	}
}

func TestSubmitShippingFieldErrorsEnvelope(t *testing.T) {
	svc := &stubCheckoutService{
		submitShippingFn: func(ctx context.Context, userID string, info domain.ShippingInfo) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.FieldErrors{
				"phone":   "a valid Vietnamese phone number is required",
				"address": "address must be at least 5 characters",
			}
		},
	}
	r := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPut, "/shipping", `{"fullName":"A","phone":"x","address":"y"}`))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["error"] != "invalid_shipping_info" {
		t.Fatalf("error code = %v, want invalid_shipping_info", body["error"])
	}
	if _, ok := body["phone"]; !ok {
		t.Fatalf("expected per-field detail for phone, body %v", body)
	}
	if _, ok := body["address"]; !ok {
		t.Fatalf("expected per-field detail for address, body %v", body)
	}
}

func TestSelectPaymentMethodEchoesChoice(t *testing.T) {
	r := newCheckoutRouter(&stubCheckoutService{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPut, "/payment-method", `{"method":"vnpay"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeJSONBody(t, rec); body["paymentMethod"] != "vnpay" {
		t.Fatalf("paymentMethod = %v, want vnpay", body["paymentMethod"])
	}
}

func TestConfirmPaymentFailureMapsToBadGateway(t *testing.T) {
	svc := &stubCheckoutService{
		confirmFn: func(ctx context.Context, userID string) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCheckoutPaymentFailed
		},
	}
	r := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPost, "/confirm", ""))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body := decodeJSONBody(t, rec); body["error"] != "payment_failed" {
		t.Fatalf("error code = %v, want payment_failed", body["error"])
	}
}

func TestConfirmHandoffExposesRedirect(t *testing.T) {
	svc := &stubCheckoutService{
		confirmFn: func(ctx context.Context, userID string) (services.CheckoutSession, error) {
			return services.CheckoutSession{
				Step:        domain.StepGatewayHandoff,
				RedirectURL: "https://pay.example/redirect?token=abc",
			}, nil
		},
	}
	r := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodPost, "/confirm", ""))

	body := decodeJSONBody(t, rec)
	if body["step"] != string(domain.StepGatewayHandoff) {
		t.Fatalf("step = %v, want %s", body["step"], domain.StepGatewayHandoff)
	}
	if body["redirectUrl"] != "https://pay.example/redirect?token=abc" {
		t.Fatalf("redirectUrl = %v", body["redirectUrl"])
	}
}

func TestAbandonReturnsNoContent(t *testing.T) {
	svc := &stubCheckoutService{}
	r := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(http.MethodDelete, "/", ""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(svc.abandoned) != 1 || svc.abandoned[0] != "u-1" {
		t.Fatalf("abandoned = %v, want [u-1]", svc.abandoned)
	}
}
