package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles the gateway return endpoints. They sit outside
// the session middleware, so the only usable key is the client address.
type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts requests per key inside a fixed window. Precision
// does not matter here; the limiter only has to make hammering the
// return URLs with forged queries unattractive.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	visits map[string]*windowCount
}

type windowCount struct {
	seen     int
	openedAt time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		visits: make(map[string]*windowCount),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.visits[key]
	if count == nil || now.Sub(count.openedAt) >= l.window {
		l.dropClosedLocked(now)
		l.visits[key] = &windowCount{seen: 1, openedAt: now}
		return true
	}

	count.seen++
	return count.seen <= l.limit
}

// dropClosedLocked evicts keys whose window has passed so the table does
// not grow with every address that ever hit a return URL.
func (l *windowLimiter) dropClosedLocked(now time.Time) {
	for key, count := range l.visits {
		if now.Sub(count.openedAt) >= l.window {
			delete(l.visits, key)
		}
	}
}
