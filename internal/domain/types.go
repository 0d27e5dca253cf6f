package domain

import (
	"time"
)

// CartItem is a single line held in the client-side cart snapshot.
type CartItem struct {
	ProductID         string
	Name              string
	Quantity          int
	UnitPriceSnapshot int64
	StockCeiling      int
	ImageURL          string
	AddedAt           time.Time
}

// Cart is the client-held snapshot of the remote cart. It is owned by the
// cart cache and mutated only through the reconciler.
type Cart struct {
	Items      []CartItem
	TotalPrice int64
	FetchedAt  time.Time
}

// TotalOf recomputes the cart total from its lines. The remote service is
// authoritative; this exists for optimistic local updates.
func TotalOf(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPriceSnapshot <= 0 {
			continue
		}
		total += item.UnitPriceSnapshot * int64(item.Quantity)
	}
	return total
}

// CartIssues describes why a cart failed remote validation.
type CartIssues struct {
	OutOfStockItems  []string
	UnavailableItems []string
	EmptyCart        bool
}

// CartValidation is the result of the remote cart validation check.
type CartValidation struct {
	IsValid bool
	Issues  CartIssues
}

// ShippingInfo captures the recipient details collected during checkout.
type ShippingInfo struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Notes    string `json:"notes,omitempty"`
}

// PaymentMethodKind distinguishes direct submission from gateway handoff.
type PaymentMethodKind string

const (
	// PaymentMethodDirect submits the order in one call (cash on delivery).
	PaymentMethodDirect PaymentMethodKind = "direct"
	// PaymentMethodGateway hands the browser to a redirect-based provider.
	PaymentMethodGateway PaymentMethodKind = "gateway"
)

// PaymentMethod identifies a selectable payment option.
type PaymentMethod struct {
	Code string
	Kind PaymentMethodKind
	Name string
}

// CheckoutStep enumerates the checkout session state machine.
type CheckoutStep string

const (
	// StepShippingInfo collects and validates recipient details.
	StepShippingInfo CheckoutStep = "shipping_info"
	// StepPaymentSelection chooses the payment method.
	StepPaymentSelection CheckoutStep = "payment_selection"
	// StepGatewayHandoff means the browser has been sent to the gateway.
	StepGatewayHandoff CheckoutStep = "gateway_handoff"
	// StepConfirmed is the terminal success state.
	StepConfirmed CheckoutStep = "confirmed"
	// StepFailed is the terminal failure state.
	StepFailed CheckoutStep = "failed"
)

// OrderStatus mirrors the remote-owned order lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus mirrors the remote-owned payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusAwaitingPayment      PaymentStatus = "awaiting_payment"
	PaymentStatusAwaitingVerification PaymentStatus = "awaiting_verification"
	PaymentStatusPaid                 PaymentStatus = "paid"
	PaymentStatusFailed               PaymentStatus = "failed"
)

// OrderItem is a priced line item inside a submitted order.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Order is the remote-owned record referenced locally. A temporary gateway
// order is a normal order whose payment status starts at awaiting_payment.
type Order struct {
	ID            string
	Items         []OrderItem
	TotalPrice    int64
	ShippingInfo  ShippingInfo
	PaymentMethod string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingGatewayOrder is the durable marker written before the browser is
// redirected to the payment gateway. It is the only state that must
// survive a full navigation away from the application.
type PendingGatewayOrder struct {
	OrderID   string    `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification is a single entry in the live status feed. ID is the dedup
// key across redelivery; Pinned is a local-only annotation.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
	Pinned    bool      `json:"pinned"`
}
