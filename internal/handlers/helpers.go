package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/remote"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

const defaultBodyLimit = 16 * 1024

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, out any) error {
	data, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// remoteStatus maps a remote error classification to an HTTP status and
// error code for the response envelope.
func remoteStatus(err error) (int, string, bool) {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		return 0, "", false
	}
	switch rerr.Kind {
	case remote.KindUnauthorized:
		return http.StatusUnauthorized, "unauthenticated", true
	case remote.KindValidation:
		return http.StatusUnprocessableEntity, "invalid_request", true
	case remote.KindNotFound:
		return http.StatusNotFound, "not_found", true
	case remote.KindConflict:
		return http.StatusConflict, "conflict", true
	case remote.KindTimeout:
		return http.StatusGatewayTimeout, "upstream_timeout", true
	default:
		return http.StatusServiceUnavailable, "upstream_unavailable", true
	}
}
