package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/services"
)

type cartInvalidator interface {
	Invalidate(ctx context.Context)
}

type editorCloser interface {
	Flush(ctx context.Context)
}

// SessionHandlers tears down per-user state on logout.
type SessionHandlers struct {
	checkout      services.CheckoutService
	notifications services.NotificationService
	cache         cartInvalidator
	editor        editorCloser
}

// NewSessionHandlers constructs session lifecycle handlers.
func NewSessionHandlers(checkout services.CheckoutService, notifications services.NotificationService, cache cartInvalidator, editor editorCloser) *SessionHandlers {
	return &SessionHandlers{
		checkout:      checkout,
		notifications: notifications,
		cache:         cache,
		editor:        editor,
	}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/logout", h.logout)
}

// logout flushes in-flight cart edits, drops cached and checkout state,
// and clears the notification set including persisted pins.
func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := sessionUser(ctx, w)
	if !ok {
		return
	}
	if h.editor != nil {
		h.editor.Flush(ctx)
	}
	if h.cache != nil {
		h.cache.Invalidate(ctx)
	}
	if h.checkout != nil {
		h.checkout.Abandon(ctx, userID)
	}
	if h.notifications != nil {
		h.notifications.Reset(ctx)
	}
	w.WriteHeader(http.StatusNoContent)
}
