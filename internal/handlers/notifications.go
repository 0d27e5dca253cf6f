package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/httpx"
	"github.com/tanngo729/storefront-gateway/internal/services"
)

// NotificationHandlers exposes the locally merged notification feed.
type NotificationHandlers struct {
	notifications services.NotificationService
}

// NewNotificationHandlers constructs notification handlers.
func NewNotificationHandlers(notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{notifications: notifications}
}

// Routes wires the /notifications endpoints onto the provided router.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Post("/refresh", h.refresh)
	r.Get("/unread-count", h.unreadCount)
	r.Put("/read-all", h.markAllRead)
	r.Put("/{notificationID}/read", h.markRead)
	r.Put("/{notificationID}/pin", h.pin)
	r.Delete("/{notificationID}/pin", h.unpin)
	r.Delete("/{notificationID}", h.remove)
}

type notificationView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
	Read      bool   `json:"read"`
	Pinned    bool   `json:"pinned"`
}

func buildNotificationList(items []domain.Notification) []notificationView {
	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, notificationView{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: formatTime(n.CreatedAt),
			Read:      n.Read,
			Pinned:    n.Pinned,
		})
	}
	return views
}

func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	items := h.notifications.List(r.Context())
	writeJSONResponse(w, http.StatusOK, map[string]any{"notifications": buildNotificationList(items)})
}

func (h *NotificationHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.notifications.Refresh(ctx)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"notifications": buildNotificationList(items)})
}

func (h *NotificationHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"unread": h.notifications.Unread(r.Context())})
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if err := h.notifications.MarkRead(ctx, id); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.notifications.MarkAllRead(ctx); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) pin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if err := h.notifications.Pin(ctx, id); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) unpin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if err := h.notifications.Unpin(ctx, id); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if err := h.notifications.Delete(ctx, id); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) writeNotificationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrNotificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotificationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("notification_not_found", "notification not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPinLimitReached):
		httpx.WriteError(ctx, w, httpx.NewError("pin_limit_reached", "unpin another notification first", http.StatusConflict))
	default:
		if status, code, ok := remoteStatus(err); ok {
			httpx.WriteError(ctx, w, httpx.NewError(code, "notification operation failed", status))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("notification_error", "notification operation failed", http.StatusInternalServerError))
	}
}
