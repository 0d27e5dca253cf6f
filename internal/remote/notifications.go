package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
)

type notificationPayload struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListNotifications pulls the current notification set; this is the
// pull-based fallback when the live channel is stale.
func (c *Client) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	var payload struct {
		Notifications []notificationPayload `json:"notifications"`
	}
	if err := c.do(ctx, "notifications.list", http.MethodGet, "/notifications", nil, &payload, callOptions{}); err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(payload.Notifications))
	for _, n := range payload.Notifications {
		out = append(out, domain.Notification{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	return out, nil
}

// MarkNotificationRead flags a single notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, "notifications.read", http.MethodPut, path, nil, nil, callOptions{})
}

// MarkAllNotificationsRead flags every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, "notifications.read_all", http.MethodPut, "/notifications/read-all", nil, nil, callOptions{})
}

// DeleteNotification removes a notification server-side.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	path := fmt.Sprintf("/notifications/%s", url.PathEscape(id))
	return c.do(ctx, "notifications.delete", http.MethodDelete, path, nil, nil, callOptions{})
}
