package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
)

// OrderDraft is the payload accepted by both direct and temporary order
// creation.
type OrderDraft struct {
	Items         []domain.OrderItem
	TotalPrice    int64
	ShippingInfo  domain.ShippingInfo
	PaymentMethod string
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type shippingInfoPayload struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Notes    string `json:"notes,omitempty"`
}

type orderDraftPayload struct {
	Items         []orderItemPayload  `json:"items"`
	TotalPrice    int64               `json:"totalPrice"`
	ShippingInfo  shippingInfoPayload `json:"shippingInfo"`
	PaymentMethod string              `json:"paymentMethod,omitempty"`
}

type orderPayload struct {
	ID            string              `json:"_id"`
	Items         []orderItemPayload  `json:"items"`
	TotalPrice    int64               `json:"totalPrice"`
	ShippingInfo  shippingInfoPayload `json:"shippingInfo"`
	PaymentMethod string              `json:"paymentMethod"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// CreateOrder submits a direct (e.g. cash-on-delivery) order in one call.
func (c *Client) CreateOrder(ctx context.Context, draft OrderDraft) (domain.Order, error) {
	var payload orderPayload
	if err := c.do(ctx, "orders.create", http.MethodPost, "/orders", draft.toPayload(), &payload, callOptions{}); err != nil {
		return domain.Order{}, err
	}
	return payload.toDomain(), nil
}

// CreateTemporaryOrder submits a gateway-destined order whose payment
// status starts at awaiting_payment.
func (c *Client) CreateTemporaryOrder(ctx context.Context, draft OrderDraft) (domain.Order, error) {
	var payload orderPayload
	if err := c.do(ctx, "orders.create_temporary", http.MethodPost, "/orders/create-vnpay-temp", draft.toPayload(), &payload, callOptions{}); err != nil {
		return domain.Order{}, err
	}
	return payload.toDomain(), nil
}

// CancelTemporaryOrder asks the remote service to cancel an abandoned or
// failed temporary order. Orders are cancelled, never deleted.
func (c *Client) CancelTemporaryOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/orders/%s/cancel-temporary", url.PathEscape(orderID))
	return c.do(ctx, "orders.cancel_temporary", http.MethodPost, path, nil, nil, callOptions{})
}

// GetPaymentStatus reads the authoritative payment state of an order. The
// redirect-return query parameters are only hints; this is the source of
// truth for "paid".
func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (domain.Order, error) {
	var payload struct {
		Order orderPayload `json:"order"`
	}
	path := fmt.Sprintf("/payment/order/%s", url.PathEscape(orderID))
	if err := c.do(ctx, "payment.status", http.MethodGet, path, nil, &payload, callOptions{}); err != nil {
		return domain.Order{}, err
	}
	return payload.Order.toDomain(), nil
}

func (d OrderDraft) toPayload() orderDraftPayload {
	items := make([]orderItemPayload, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}
	return orderDraftPayload{
		Items:      items,
		TotalPrice: d.TotalPrice,
		ShippingInfo: shippingInfoPayload{
			FullName: d.ShippingInfo.FullName,
			Phone:    d.ShippingInfo.Phone,
			Email:    d.ShippingInfo.Email,
			Address:  d.ShippingInfo.Address,
			Notes:    d.ShippingInfo.Notes,
		},
		PaymentMethod: d.PaymentMethod,
	}
}

func (p orderPayload) toDomain() domain.Order {
	items := make([]domain.OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	return domain.Order{
		ID:         p.ID,
		Items:      items,
		TotalPrice: p.TotalPrice,
		ShippingInfo: domain.ShippingInfo{
			FullName: p.ShippingInfo.FullName,
			Phone:    p.ShippingInfo.Phone,
			Email:    p.ShippingInfo.Email,
			Address:  p.ShippingInfo.Address,
			Notes:    p.ShippingInfo.Notes,
		},
		PaymentMethod: p.PaymentMethod,
		Status:        domain.OrderStatus(p.Status),
		PaymentStatus: domain.PaymentStatus(p.PaymentStatus),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
