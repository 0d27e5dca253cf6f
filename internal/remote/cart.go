package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
)

type cartItemPayload struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Image     string    `json:"image,omitempty"`
	AddedAt   time.Time `json:"addedAt,omitempty"`
}

type cartPayload struct {
	Items      []cartItemPayload `json:"items"`
	TotalPrice int64             `json:"totalPrice"`
}

type cartMutationRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

type cartValidationPayload struct {
	IsValid bool `json:"isValid"`
	Issues  struct {
		OutOfStockItems  []string `json:"outOfStockItems"`
		UnavailableItems []string `json:"unavailableItems"`
		EmptyCart        bool     `json:"emptyCart"`
	} `json:"issues"`
}

// GetCart fetches the full current cart.
func (c *Client) GetCart(ctx context.Context) (domain.Cart, error) {
	var payload cartPayload
	if err := c.do(ctx, "cart.get", http.MethodGet, "/cart", nil, &payload, callOptions{}); err != nil {
		return domain.Cart{}, err
	}
	return payload.toDomain(), nil
}

// AddToCart adds quantity of a product; the response carries the full cart.
func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (domain.Cart, error) {
	var payload cartPayload
	req := cartMutationRequest{ProductID: productID, Quantity: quantity}
	if err := c.do(ctx, "cart.add", http.MethodPost, "/cart/add", req, &payload, callOptions{}); err != nil {
		return domain.Cart{}, err
	}
	return payload.toDomain(), nil
}

// UpdateCartItem sets the absolute quantity of a line.
func (c *Client) UpdateCartItem(ctx context.Context, productID string, quantity int) (domain.Cart, error) {
	var payload cartPayload
	req := cartMutationRequest{ProductID: productID, Quantity: quantity}
	if err := c.do(ctx, "cart.update_item", http.MethodPut, "/cart/update-item", req, &payload, callOptions{}); err != nil {
		return domain.Cart{}, err
	}
	return payload.toDomain(), nil
}

// RemoveCartItem deletes a line.
func (c *Client) RemoveCartItem(ctx context.Context, productID string) (domain.Cart, error) {
	var payload cartPayload
	req := cartMutationRequest{ProductID: productID}
	if err := c.do(ctx, "cart.remove_item", http.MethodDelete, "/cart/remove-item", req, &payload, callOptions{}); err != nil {
		return domain.Cart{}, err
	}
	return payload.toDomain(), nil
}

// ClearCart empties the cart.
func (c *Client) ClearCart(ctx context.Context) (domain.Cart, error) {
	var payload cartPayload
	if err := c.do(ctx, "cart.clear", http.MethodDelete, "/cart/clear", nil, &payload, callOptions{}); err != nil {
		return domain.Cart{}, err
	}
	return payload.toDomain(), nil
}

// ValidateCart asks the remote service whether the cart can be checked out.
func (c *Client) ValidateCart(ctx context.Context) (domain.CartValidation, error) {
	var payload cartValidationPayload
	if err := c.do(ctx, "cart.validate", http.MethodGet, "/cart/validate", nil, &payload, callOptions{}); err != nil {
		return domain.CartValidation{}, err
	}
	return domain.CartValidation{
		IsValid: payload.IsValid,
		Issues: domain.CartIssues{
			OutOfStockItems:  payload.Issues.OutOfStockItems,
			UnavailableItems: payload.Issues.UnavailableItems,
			EmptyCart:        payload.Issues.EmptyCart,
		},
	}, nil
}

func (p cartPayload) toDomain() domain.Cart {
	items := make([]domain.CartItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.CartItem{
			ProductID:         item.ProductID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			UnitPriceSnapshot: item.Price,
			StockCeiling:      item.Stock,
			ImageURL:          item.Image,
			AddedAt:           item.AddedAt,
		})
	}
	total := p.TotalPrice
	if total == 0 {
		total = domain.TotalOf(items)
	}
	return domain.Cart{
		Items:      items,
		TotalPrice: total,
		FetchedAt:  time.Now().UTC(),
	}
}
