package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/httpx"
	"github.com/tanngo729/storefront-gateway/internal/reconciler"
)

type cartCache interface {
	Get(ctx context.Context, forceRefresh bool) (domain.Cart, error)
	Invalidate(ctx context.Context)
}

type cartEditor interface {
	SetQuantity(ctx context.Context, productID string, quantity int) error
	Remove(ctx context.Context, productID string) error
	Flush(ctx context.Context)
}

type cartRemote interface {
	AddToCart(ctx context.Context, productID string, quantity int) (domain.Cart, error)
	ClearCart(ctx context.Context) (domain.Cart, error)
	ValidateCart(ctx context.Context) (domain.CartValidation, error)
}

// CartHandlers exposes the cached cart and its mutation endpoints.
type CartHandlers struct {
	cache  cartCache
	editor cartEditor
	remote cartRemote
}

// NewCartHandlers constructs handlers over the cache, the debounced
// editor, and the remote cart API.
func NewCartHandlers(cache cartCache, editor cartEditor, remote cartRemote) *CartHandlers {
	return &CartHandlers{
		cache:  cache,
		editor: editor,
		remote: remote,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Get("/count", h.itemCount)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.setQuantity)
	r.Delete("/items/{productID}", h.removeItem)
	r.Delete("/", h.clearCart)
	r.Post("/validate", h.validateCart)
}

type cartResponse struct {
	Items      []cartItemView `json:"items"`
	TotalPrice int64          `json:"totalPrice"`
	FetchedAt  string         `json:"fetchedAt,omitempty"`
}

type cartItemView struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Stock     int    `json:"stock"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

func buildCartResponse(cart domain.Cart) cartResponse {
	items := make([]cartItemView, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemView{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceSnapshot,
			Stock:     item.StockCeiling,
			ImageURL:  item.ImageURL,
		})
	}
	return cartResponse{
		Items:      items,
		TotalPrice: cart.TotalPrice,
		FetchedAt:  formatTime(cart.FetchedAt),
	}
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force := r.URL.Query().Get("refresh") == "1"
	cart, err := h.cache.Get(ctx, force)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

// itemCount feeds the header badge; it reads through the cache so the
// count stays consistent with the snapshot the rest of the UI sees.
func (h *CartHandlers) itemCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cart, err := h.cache.Get(ctx, false)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	quantity := 0
	for _, item := range cart.Items {
		quantity += item.Quantity
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"lines":    len(cart.Items),
		"quantity": quantity,
	})
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId and a positive quantity are required", http.StatusBadRequest))
		return
	}

	cart, err := h.remote.AddToCart(ctx, req.ProductID, req.Quantity)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.cache.Invalidate(ctx)
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	var req setQuantityRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if err := h.editor.SetQuantity(ctx, productID, req.Quantity); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	// The optimistic snapshot is the response; reconciliation follows
	// once the debounce window closes.
	cart, err := h.cache.Get(ctx, false)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, buildCartResponse(cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if err := h.editor.Remove(ctx, productID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	cart, err := h.cache.Get(ctx, false)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.editor.Flush(ctx)
	cart, err := h.remote.ClearCart(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.cache.Invalidate(ctx)
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	validation, err := h.remote.ValidateCart(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"valid": validation.IsValid,
		"issues": map[string]any{
			"outOfStockItems":  validation.Issues.OutOfStockItems,
			"unavailableItems": validation.Issues.UnavailableItems,
			"emptyCart":        validation.Issues.EmptyCart,
		},
	})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, reconciler.ErrItemNotInCart):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_in_cart", "product is not in the cart", http.StatusNotFound))
		return
	}
	if status, code, ok := remoteStatus(err); ok {
		httpx.WriteError(ctx, w, httpx.NewError(code, "cart operation failed", status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
}
