package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/platform/kvstore"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

var (
	// ErrNotificationInvalidInput indicates the caller supplied invalid input parameters.
	ErrNotificationInvalidInput = errors.New("notifications: invalid input")
	// ErrNotificationNotFound indicates the notification id is unknown locally.
	ErrNotificationNotFound = errors.New("notifications: not found")
	// ErrNotificationsUnavailable indicates the remote notification API failed.
	ErrNotificationsUnavailable = errors.New("notifications: unavailable")
	// ErrPinLimitReached indicates pinning would exceed the pin cap.
	ErrPinLimitReached = errors.New("notifications: pin limit reached")
)

type notificationClient interface {
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// NotificationServiceDeps wires the dependencies required by the notification service.
type NotificationServiceDeps struct {
	Client   notificationClient
	Store    kvstore.Store
	PinLimit int
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// feed is one user's local notification state. The remote list is
// per-account, so feeds must never be shared across identities.
type feed struct {
	items []domain.Notification
	pins  map[string]bool
}

type notificationService struct {
	client   notificationClient
	store    kvstore.Store
	pinLimit int
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewNotificationService constructs a NotificationService validating required dependencies.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Client == nil {
		return nil, errors.New("notification service: client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("notification service: state store is required")
	}
	if deps.PinLimit <= 0 {
		deps.PinLimit = 5
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		client:   deps.Client,
		store:    deps.Store,
		pinLimit: deps.PinLimit,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		feeds:  map[string]*feed{},
	}, nil
}

// Refresh replaces the caller's local set with the remote list,
// re-applying the persisted pin marks.
func (s *notificationService) Refresh(ctx context.Context) ([]domain.Notification, error) {
	items, err := s.client.ListNotifications(ctx)
	if err != nil {
		return nil, translateRemoteError(err, ErrNotificationsUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)
	f.items = items
	for i := range f.items {
		f.items[i].Pinned = f.pins[f.items[i].ID]
	}
	sortFeed(f)
	return snapshot(f), nil
}

// List returns the caller's local set in display order: pinned first,
// then newest first.
func (s *notificationService) List(ctx context.Context) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.feedLocked(ctx))
}

// Unread counts locally unread notifications for the header badge.
func (s *notificationService) Unread(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.feedLocked(ctx).items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Merge folds an event-delivered notification into the caller's local
// set: a new id is inserted, a known id is updated in place. Display
// order is re-established either way.
func (s *notificationService) Merge(ctx context.Context, incoming domain.Notification) {
	if strings.TrimSpace(incoming.ID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)

	updated := false
	for i, n := range f.items {
		if n.ID == incoming.ID {
			// Pinned state is local; the event payload never carries it.
			incoming.Pinned = n.Pinned
			f.items[i] = incoming
			updated = true
			break
		}
	}
	if !updated {
		incoming.Pinned = f.pins[incoming.ID]
		f.items = append([]domain.Notification{incoming}, f.items...)
	}
	sortFeed(f)
	s.logger(ctx, "notifications.merged", map[string]any{
		"id":      incoming.ID,
		"updated": updated,
	})
}

// Pin marks a notification pinned. Exceeding the pin cap rejects the
// request and leaves the set unchanged.
func (s *notificationService) Pin(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotificationInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)

	idx := indexOf(f.items, id)
	if idx < 0 {
		return ErrNotificationNotFound
	}
	if f.items[idx].Pinned {
		return nil
	}
	if pinnedCount(f.items) >= s.pinLimit {
		return ErrPinLimitReached
	}
	f.items[idx].Pinned = true
	f.pins[id] = true
	sortFeed(f)
	s.savePins(ctx, f)
	return nil
}

// Unpin clears the pinned mark.
func (s *notificationService) Unpin(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotificationInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)

	idx := indexOf(f.items, id)
	if idx < 0 {
		return ErrNotificationNotFound
	}
	f.items[idx].Pinned = false
	delete(f.pins, id)
	sortFeed(f)
	s.savePins(ctx, f)
	return nil
}

// MarkRead marks one notification read remotely and patches the local copy.
func (s *notificationService) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotificationInvalidInput
	}
	if err := s.client.MarkNotificationRead(ctx, id); err != nil {
		return translateRemoteError(err, ErrNotificationsUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)
	if idx := indexOf(f.items, id); idx >= 0 {
		f.items[idx].Read = true
	}
	return nil
}

// MarkAllRead marks every notification read remotely and locally.
func (s *notificationService) MarkAllRead(ctx context.Context) error {
	if err := s.client.MarkAllNotificationsRead(ctx); err != nil {
		return translateRemoteError(err, ErrNotificationsUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)
	for i := range f.items {
		f.items[i].Read = true
	}
	return nil
}

// Delete removes a notification remotely and locally, dropping its pin.
func (s *notificationService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotificationInvalidInput
	}
	if err := s.client.DeleteNotification(ctx, id); err != nil {
		return translateRemoteError(err, ErrNotificationsUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feedLocked(ctx)
	if idx := indexOf(f.items, id); idx >= 0 {
		f.items = append(f.items[:idx], f.items[idx+1:]...)
	}
	if f.pins[id] {
		delete(f.pins, id)
		s.savePins(ctx, f)
	}
	return nil
}

// Reset drops the caller's local notification state, including their
// persisted pins. Used on logout; other users' feeds are untouched.
func (s *notificationService) Reset(ctx context.Context) {
	uid := feedKey(ctx)
	s.mu.Lock()
	delete(s.feeds, uid)
	s.mu.Unlock()
	if err := s.store.Delete(ctx, pinsKey(uid)); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		s.logger(ctx, "notifications.pins_clear_failed", map[string]any{"error": err.Error()})
	}
}

// feedLocked returns the caller's feed, creating it and loading the
// persisted pins on first access. Caller holds s.mu.
func (s *notificationService) feedLocked(ctx context.Context) *feed {
	uid := feedKey(ctx)
	if f, ok := s.feeds[uid]; ok {
		return f
	}
	f := &feed{pins: map[string]bool{}}
	if raw, err := s.store.Get(ctx, pinsKey(uid)); err == nil {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			for _, id := range ids {
				f.pins[id] = true
			}
		}
	}
	s.feeds[uid] = f
	return f
}

func (s *notificationService) savePins(ctx context.Context, f *feed) {
	ids := make([]string, 0, len(f.pins))
	for id := range f.pins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, pinsKey(feedKey(ctx)), raw); err != nil {
		s.logger(ctx, "notifications.pins_save_failed", map[string]any{"error": err.Error()})
	}
}

func feedKey(ctx context.Context) string {
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		return identity.UID
	}
	return ""
}

func pinsKey(uid string) string {
	return kvstore.KeyPinnedNotifications + "." + uid
}

func indexOf(items []domain.Notification, id string) int {
	for i, n := range items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func pinnedCount(items []domain.Notification) int {
	count := 0
	for _, n := range items {
		if n.Pinned {
			count++
		}
	}
	return count
}

// sortFeed establishes display order: pinned before unpinned, newest
// first within each group, id as a stable tie-break.
func sortFeed(f *feed) {
	sort.SliceStable(f.items, func(i, j int) bool {
		a, b := f.items[i], f.items[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func snapshot(f *feed) []domain.Notification {
	out := make([]domain.Notification, len(f.items))
	copy(out, f.items)
	return out
}
