// Package services implements the gateway's checkout orchestration and
// notification state on top of the remote storefront API.
package services

import (
	"context"
	"fmt"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/payments"
)

// CheckoutService drives the checkout session state machine.
type CheckoutService interface {
	Start(ctx context.Context, userID string) (CheckoutSession, error)
	Session(ctx context.Context, userID string) (CheckoutSession, error)
	SubmitShipping(ctx context.Context, userID string, info domain.ShippingInfo) (CheckoutSession, error)
	SelectPaymentMethod(ctx context.Context, userID, method string) (CheckoutSession, error)
	Confirm(ctx context.Context, userID string) (CheckoutSession, error)
	ResolveReturn(ctx context.Context, userID string, result payments.ReturnResult) (CheckoutSession, error)
	Abandon(ctx context.Context, userID string)
}

// NotificationService maintains the locally merged notification set.
type NotificationService interface {
	Refresh(ctx context.Context) ([]domain.Notification, error)
	List(ctx context.Context) []domain.Notification
	Unread(ctx context.Context) int
	Merge(ctx context.Context, incoming domain.Notification)
	Pin(ctx context.Context, id string) error
	Unpin(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context)
}

// translateRemoteError wraps a remote failure in the service's sentinel
// while keeping the remote classification inspectable via errors.As.
func translateRemoteError(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
