// Package livesync keeps order and notification state current over a
// websocket event channel, degrading to stale-but-usable when the
// channel cannot be held open.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/domain"
)

// Status describes the synchronizer's view of the event channel.
type Status string

const (
	// StatusConnecting means a connection or room join is in flight.
	StatusConnecting Status = "connecting"
	// StatusLive means every configured room join has been confirmed.
	StatusLive Status = "live"
	// StatusStale means reconnection attempts are exhausted; cached data
	// remains readable but is no longer refreshed by events.
	StatusStale Status = "stale"
)

// Event names of the wire protocol. Joins are distinct events per
// room rather than one parameterized join.
const (
	eventJoinCustomerRoom     = "joinCustomerRoom"
	eventJoinAdminRoom        = "joinAdminRoom"
	eventRoomJoined           = "roomJoined"
	eventOrderStatus          = "orderStatusUpdate"
	eventNewOrder             = "newOrder"
	eventCustomerNotification = "customerNotification"
	eventAdminNotification    = "adminNotification"
)

// RoomCustomer and RoomAdmin are the joinable rooms of the channel.
const (
	RoomCustomer = "customer"
	RoomAdmin    = "admin"
)

// dedupWindow bounds how many delivered event ids are remembered.
const dedupWindow = 512

// Event is a deduplicated, decoded message from the channel.
type Event struct {
	ID           string               `json:"id"`
	Name         string               `json:"event"`
	UserID       string               `json:"userId,omitempty"`
	OrderID      string               `json:"orderId,omitempty"`
	OrderStatus  domain.OrderStatus   `json:"orderStatus,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	ReceivedAt   time.Time            `json:"-"`
}

// frame is the raw wire envelope.
type frame struct {
	ID           string               `json:"id"`
	Event        string               `json:"event"`
	Room         string               `json:"room,omitempty"`
	UserID       string               `json:"userId,omitempty"`
	OrderID      string               `json:"orderId,omitempty"`
	OrderStatus  string               `json:"orderStatus,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

// Conn is a minimal message-oriented connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a connection to the event endpoint.
type Dialer func(ctx context.Context, url, token string) (Conn, error)

// Deps configures the synchronizer.
type Deps struct {
	Dial Dialer
	URL  string
	// Token authenticates the channel; forwarded by the dialer.
	Token string
	// Rooms to join; the channel is live only once every join is confirmed.
	Rooms       []string
	MaxAttempts int
	Backoff     time.Duration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Synchronizer maintains the event channel and fans events out to
// subscribers exactly once per event id.
type Synchronizer struct {
	dial        Dialer
	url         string
	token       string
	rooms       []string
	maxAttempts int
	backoff     time.Duration
	clock       func() time.Time
	log         func(ctx context.Context, event string, fields map[string]any)

	mu          sync.Mutex
	status      Status
	joined      map[string]bool
	seen        map[string]struct{}
	seenOrder   []string
	subscribers map[int]func(Event)
	nextSubID   int
}

// New validates dependencies and builds a synchronizer.
func New(deps Deps) (*Synchronizer, error) {
	if deps.Dial == nil {
		return nil, errors.New("livesync: dialer is required")
	}
	if strings.TrimSpace(deps.URL) == "" {
		return nil, errors.New("livesync: url is required")
	}
	if len(deps.Rooms) == 0 {
		return nil, errors.New("livesync: at least one room is required")
	}
	for _, room := range deps.Rooms {
		if joinEventFor(room) == "" {
			return nil, errors.New("livesync: unknown room " + room)
		}
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 5
	}
	if deps.Backoff <= 0 {
		deps.Backoff = 3 * time.Second
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Synchronizer{
		dial:        deps.Dial,
		url:         deps.URL,
		token:       deps.Token,
		rooms:       append([]string(nil), deps.Rooms...),
		maxAttempts: deps.MaxAttempts,
		backoff:     deps.Backoff,
		clock:       func() time.Time { return clock().UTC() },
		log:         logger,
		status:      StatusConnecting,
		joined:      map[string]bool{},
		seen:        map[string]struct{}{},
		subscribers: map[int]func(Event){},
	}, nil
}

// Status reports the current channel state.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a handler for deduplicated events and returns an
// unsubscribe func. Handlers run on the read loop goroutine.
func (s *Synchronizer) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Run drives connect/read/reconnect until the context is cancelled or
// the attempt budget is exhausted. It blocks and is meant to run on its
// own goroutine.
func (s *Synchronizer) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setStatus(ctx, StatusConnecting)

		conn, err := s.dial(ctx, s.url, s.token)
		if err != nil {
			attempts++
			s.log(ctx, "livesync.dial_failed", map[string]any{
				"attempt": attempts,
				"error":   err.Error(),
			})
			if attempts >= s.maxAttempts {
				s.setStatus(ctx, StatusStale)
				return errors.New("livesync: reconnect attempts exhausted")
			}
			if !sleep(ctx, s.backoff) {
				return ctx.Err()
			}
			continue
		}

		wentLive, err := s.serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if wentLive {
			// A session that reached live resets the budget; only
			// consecutive failures count against it.
			attempts = 0
		} else {
			attempts++
		}
		s.log(ctx, "livesync.disconnected", map[string]any{
			"attempt": attempts,
			"error":   errString(err),
		})
		if attempts >= s.maxAttempts {
			s.setStatus(ctx, StatusStale)
			return errors.New("livesync: reconnect attempts exhausted")
		}
		if !sleep(ctx, s.backoff) {
			return ctx.Err()
		}
	}
}

// serve joins the configured rooms and pumps events until the
// connection breaks. It reports whether the session ever reached live.
func (s *Synchronizer) serve(ctx context.Context, conn Conn) (bool, error) {
	s.mu.Lock()
	s.joined = map[string]bool{}
	s.mu.Unlock()

	for _, room := range s.rooms {
		if err := conn.WriteJSON(frame{Event: joinEventFor(room), Room: room}); err != nil {
			return false, err
		}
	}

	wentLive := false
	for {
		if err := ctx.Err(); err != nil {
			return wentLive, err
		}
		raw, err := conn.ReadMessage()
		if err != nil {
			return wentLive, err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log(ctx, "livesync.frame_discarded", map[string]any{"error": err.Error()})
			continue
		}
		switch f.Event {
		case eventRoomJoined:
			if s.confirmRoom(f.Room) {
				wentLive = true
				s.setStatus(ctx, StatusLive)
				s.log(ctx, "livesync.live", map[string]any{"rooms": s.rooms})
			}
		case eventOrderStatus, eventNewOrder, eventCustomerNotification, eventAdminNotification:
			s.dispatch(ctx, f)
		default:
			// Unknown events are ignored so protocol additions do not
			// break older gateways.
		}
	}
}

// confirmRoom records a join confirmation and reports whether every
// configured room is now confirmed.
func (s *Synchronizer) confirmRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[room] = true
	for _, r := range s.rooms {
		if !s.joined[r] {
			return false
		}
	}
	return true
}

// dispatch delivers an event to subscribers unless its id was already
// delivered. Events without an id cannot be deduplicated and pass
// through unconditionally.
func (s *Synchronizer) dispatch(ctx context.Context, f frame) {
	s.mu.Lock()
	if f.ID != "" {
		if _, dup := s.seen[f.ID]; dup {
			s.mu.Unlock()
			s.log(ctx, "livesync.duplicate_dropped", map[string]any{"id": f.ID})
			return
		}
		s.seen[f.ID] = struct{}{}
		s.seenOrder = append(s.seenOrder, f.ID)
		if len(s.seenOrder) > dedupWindow {
			evicted := s.seenOrder[0]
			s.seenOrder = s.seenOrder[1:]
			delete(s.seen, evicted)
		}
	}
	handlers := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	event := Event{
		ID:           f.ID,
		Name:         f.Event,
		UserID:       f.UserID,
		OrderID:      f.OrderID,
		OrderStatus:  domain.OrderStatus(f.OrderStatus),
		Notification: f.Notification,
		ReceivedAt:   s.clock(),
	}
	for _, fn := range handlers {
		fn(event)
	}
}

func (s *Synchronizer) setStatus(ctx context.Context, status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	if changed {
		s.log(ctx, "livesync.status_changed", map[string]any{"status": string(status)})
	}
}

// joinEventFor maps a room to its join event name, or "" for a room
// the channel does not offer.
func joinEventFor(room string) string {
	switch strings.ToLower(strings.TrimSpace(room)) {
	case RoomCustomer:
		return eventJoinCustomerRoom
	case RoomAdmin:
		return eventJoinAdminRoom
	default:
		return ""
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
