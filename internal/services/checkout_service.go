package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/payments"
	"github.com/tanngo729/storefront-gateway/internal/platform/kvstore"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartNotReady indicates the cart is empty or failed validation.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrCheckoutInvalidTransition indicates the requested operation is not
	// legal from the session's current step.
	ErrCheckoutInvalidTransition = errors.New("checkout: invalid transition")
	// ErrCheckoutNotFound indicates no checkout session exists for the user.
	ErrCheckoutNotFound = errors.New("checkout: session not found")
	// ErrCheckoutPaymentFailed indicates the payment provider rejected the order.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

var (
	phonePattern = regexp.MustCompile(`^(0|\+84)\d{9,10}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// FieldErrors maps form field names to validation messages.
type FieldErrors map[string]string

// Error implements the error interface.
func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	return fmt.Sprintf("checkout: invalid fields %v", fields)
}

// CheckoutSession is the in-flight checkout state for one user.
type CheckoutSession struct {
	Step          domain.CheckoutStep    `json:"step"`
	Cart          domain.Cart            `json:"cart"`
	Shipping      domain.ShippingInfo    `json:"shipping"`
	PaymentMethod string                 `json:"paymentMethod"`
	Order         domain.Order           `json:"order"`
	RedirectURL   string                 `json:"redirectUrl,omitempty"`
	FailureReason string                 `json:"failureReason,omitempty"`
	Issues        *domain.CartIssues     `json:"issues,omitempty"`
	Methods       []domain.PaymentMethod `json:"methods,omitempty"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// terminal reports whether the session reached a final step.
func (s CheckoutSession) terminal() bool {
	return s.Step == domain.StepConfirmed || s.Step == domain.StepFailed
}

type cartSource interface {
	Get(ctx context.Context, forceRefresh bool) (domain.Cart, error)
	Invalidate(ctx context.Context)
}

type cartValidator interface {
	ValidateCart(ctx context.Context) (domain.CartValidation, error)
}

type paymentManager interface {
	Confirm(ctx context.Context, method string, draft remote.OrderDraft) (payments.ConfirmResult, error)
	Methods() []domain.PaymentMethod
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Cart      cartSource
	Validator cartValidator
	Payments  paymentManager
	Store     kvstore.Store
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	cart      cartSource
	validator cartValidator
	payments  paymentManager
	store     kvstore.Store
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	sessions map[string]*CheckoutSession
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil {
		return nil, errors.New("checkout service: cart source is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("checkout service: cart validator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if deps.Store == nil {
		return nil, errors.New("checkout service: state store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		cart:      deps.Cart,
		validator: deps.Validator,
		payments:  deps.Payments,
		store:     deps.Store,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		sessions: map[string]*CheckoutSession{},
	}, nil
}

// Start opens a checkout session at the shipping step, refusing an empty
// cart. A previously saved shipping draft is restored so a cancelled
// gateway handoff does not cost the customer their form input.
func (s *checkoutService) Start(ctx context.Context, userID string) (CheckoutSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	cart, err := s.cart.Get(ctx, false)
	if err != nil {
		return CheckoutSession{}, translateRemoteError(err, ErrCheckoutUnavailable)
	}
	if len(cart.Items) == 0 {
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}

	session := &CheckoutSession{
		Step:      domain.StepShippingInfo,
		Cart:      cart,
		Methods:   s.payments.Methods(),
		UpdatedAt: s.now(),
	}
	if draft, ok := s.loadDraft(ctx, userID); ok {
		session.Shipping = draft
	}

	s.mu.Lock()
	s.sessions[userID] = session
	s.mu.Unlock()

	s.logger(ctx, "checkout.started", map[string]any{"items": len(cart.Items)})
	return *session, nil
}

// Session returns the current session for the user.
func (s *checkoutService) Session(ctx context.Context, userID string) (CheckoutSession, error) {
	session, err := s.get(userID)
	if err != nil {
		return CheckoutSession{}, err
	}
	return *session, nil
}

// SubmitShipping validates the shipping form and advances to payment
// selection. Validation failures report every offending field at once.
func (s *checkoutService) SubmitShipping(ctx context.Context, userID string, info domain.ShippingInfo) (CheckoutSession, error) {
	session, err := s.get(userID)
	if err != nil {
		return CheckoutSession{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session.Step != domain.StepShippingInfo && session.Step != domain.StepPaymentSelection {
		return CheckoutSession{}, ErrCheckoutInvalidTransition
	}

	info = trimShipping(info)
	if fieldErrs := validateShipping(info); len(fieldErrs) > 0 {
		return CheckoutSession{}, fieldErrs
	}

	session.Shipping = info
	session.Step = domain.StepPaymentSelection
	session.UpdatedAt = s.now()
	s.saveDraft(ctx, userID, info)
	s.logger(ctx, "checkout.shipping_submitted", nil)
	return *session, nil
}

// SelectPaymentMethod records the chosen method; the step stays at
// payment selection until Confirm.
func (s *checkoutService) SelectPaymentMethod(ctx context.Context, userID, method string) (CheckoutSession, error) {
	session, err := s.get(userID)
	if err != nil {
		return CheckoutSession{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session.Step != domain.StepPaymentSelection {
		return CheckoutSession{}, ErrCheckoutInvalidTransition
	}

	method = strings.ToLower(strings.TrimSpace(method))
	if !s.knownMethod(method) {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	session.PaymentMethod = method
	session.UpdatedAt = s.now()
	return *session, nil
}

// Confirm re-validates the cart, submits the order through the selected
// provider, and moves the session to its terminal or handoff step.
// Calling Confirm on a terminal session returns the recorded outcome
// unchanged rather than submitting twice.
func (s *checkoutService) Confirm(ctx context.Context, userID string) (CheckoutSession, error) {
	session, err := s.get(userID)
	if err != nil {
		return CheckoutSession{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session.terminal() {
		return *session, nil
	}
	if session.Step != domain.StepPaymentSelection || session.PaymentMethod == "" {
		return CheckoutSession{}, ErrCheckoutInvalidTransition
	}

	validation, err := s.validator.ValidateCart(ctx)
	if err != nil {
		return CheckoutSession{}, translateRemoteError(err, ErrCheckoutUnavailable)
	}
	if !validation.IsValid {
		issues := validation.Issues
		session.Issues = &issues
		session.UpdatedAt = s.now()
		s.cart.Invalidate(ctx)
		s.logger(ctx, "checkout.cart_validation_failed", map[string]any{
			"out_of_stock": len(issues.OutOfStockItems),
			"unavailable":  len(issues.UnavailableItems),
			"empty_cart":   issues.EmptyCart,
		})
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}

	draft := remote.OrderDraft{
		Items:        orderLines(session.Cart.Items),
		TotalPrice:   session.Cart.TotalPrice,
		ShippingInfo: session.Shipping,
	}
	result, err := s.payments.Confirm(ctx, session.PaymentMethod, draft)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnreachable) {
			// The handoff was compensated; the session stays on payment
			// selection so the customer can retry or switch methods.
			session.FailureReason = "payment gateway is unreachable, please retry"
			session.UpdatedAt = s.now()
			return CheckoutSession{}, errors.Join(ErrCheckoutPaymentFailed, err)
		}
		return CheckoutSession{}, translateRemoteError(err, ErrCheckoutPaymentFailed)
	}

	session.Order = result.Order
	if result.Handoff() {
		session.Step = domain.StepGatewayHandoff
		session.RedirectURL = result.RedirectURL
	} else {
		session.Step = domain.StepConfirmed
		s.clearDraft(ctx, userID)
		s.cart.Invalidate(ctx)
	}
	session.UpdatedAt = s.now()
	s.logger(ctx, "checkout.confirmed", map[string]any{
		"method":  session.PaymentMethod,
		"step":    string(session.Step),
		"order":   session.Order.ID,
		"handoff": result.Handoff(),
	})
	return *session, nil
}

// ResolveReturn applies a reconciled gateway return to the session,
// moving it to confirmed or failed. Sessions already terminal keep
// their recorded outcome.
func (s *checkoutService) ResolveReturn(ctx context.Context, userID string, result payments.ReturnResult) (CheckoutSession, error) {
	session, err := s.get(userID)
	if err != nil {
		if !errors.Is(err, ErrCheckoutNotFound) {
			return CheckoutSession{}, err
		}
		// The browser may return after a gateway restart; synthesize a
		// session so the outcome is still presentable.
		session = &CheckoutSession{Step: domain.StepGatewayHandoff}
		s.mu.Lock()
		s.sessions[strings.TrimSpace(userID)] = session
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session.terminal() {
		return *session, nil
	}

	session.RedirectURL = ""
	session.UpdatedAt = s.now()
	switch result.Outcome {
	case payments.ReturnSuccess:
		session.Step = domain.StepConfirmed
		session.Order = result.Order
		s.clearDraft(ctx, userID)
		s.cart.Invalidate(ctx)
	case payments.ReturnCancelled:
		// Cancellation is recoverable: back to payment selection with
		// the shipping draft intact.
		session.Step = domain.StepPaymentSelection
		session.FailureReason = result.Reason
	default:
		session.Step = domain.StepFailed
		session.FailureReason = result.Reason
	}
	s.logger(ctx, "checkout.return_resolved", map[string]any{
		"outcome": string(result.Outcome),
		"order":   result.OrderID,
	})
	return *session, nil
}

// Abandon drops the session; the saved shipping draft survives.
func (s *checkoutService) Abandon(ctx context.Context, userID string) {
	s.mu.Lock()
	delete(s.sessions, strings.TrimSpace(userID))
	s.mu.Unlock()
}

func (s *checkoutService) get(userID string) (*CheckoutSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrCheckoutInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return session, nil
}

func (s *checkoutService) knownMethod(code string) bool {
	for _, m := range s.payments.Methods() {
		if m.Code == code {
			return true
		}
	}
	return false
}

func (s *checkoutService) draftKey(userID string) string {
	return kvstore.KeyCheckoutDraft + "." + userID
}

func (s *checkoutService) loadDraft(ctx context.Context, userID string) (domain.ShippingInfo, bool) {
	raw, err := s.store.Get(ctx, s.draftKey(userID))
	if err != nil {
		return domain.ShippingInfo{}, false
	}
	var info domain.ShippingInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.ShippingInfo{}, false
	}
	return info, true
}

func (s *checkoutService) saveDraft(ctx context.Context, userID string, info domain.ShippingInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, s.draftKey(userID), raw); err != nil {
		s.logger(ctx, "checkout.draft_save_failed", map[string]any{"error": err.Error()})
	}
}

func (s *checkoutService) clearDraft(ctx context.Context, userID string) {
	if err := s.store.Delete(ctx, s.draftKey(userID)); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		s.logger(ctx, "checkout.draft_clear_failed", map[string]any{"error": err.Error()})
	}
}

// orderLines converts cart lines into the order draft shape. The unit
// price snapshot rides along so the remote can detect price drift.
func orderLines(items []domain.CartItem) []domain.OrderItem {
	lines := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceSnapshot,
		})
	}
	return lines
}

func trimShipping(info domain.ShippingInfo) domain.ShippingInfo {
	info.FullName = strings.TrimSpace(info.FullName)
	info.Phone = strings.TrimSpace(info.Phone)
	info.Email = strings.TrimSpace(info.Email)
	info.Address = strings.TrimSpace(info.Address)
	info.Notes = strings.TrimSpace(info.Notes)
	return info
}

func validateShipping(info domain.ShippingInfo) FieldErrors {
	errs := FieldErrors{}
	if len(info.FullName) < 2 {
		errs["fullName"] = "full name must be at least 2 characters"
	}
	if !phonePattern.MatchString(info.Phone) {
		errs["phone"] = "phone number is not valid"
	}
	if !emailPattern.MatchString(info.Email) {
		errs["email"] = "email address is not valid"
	}
	if len(info.Address) < 5 {
		errs["address"] = "address must be at least 5 characters"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
