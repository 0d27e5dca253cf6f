package observability

import (
	"strings"
	"unicode"
)

// Route, method, and user id values originate on the wire and end up in
// log lines; they are stripped of control characters and clamped so a
// crafted request cannot forge or bloat log records.
const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

// SanitizeRoute cleans a route pattern for logging. An empty route is
// reported as the root path rather than an empty field.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clamp(route, maxRouteLen)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return clamp(method, maxMethodLen)
}

// SanitizeUserID cleans a user identifier for logging.
func SanitizeUserID(uid string) string {
	return clamp(uid, maxUserIDLen)
}

func clamp(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}
