package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tanngo729/storefront-gateway/internal/livesync"
)

type channelStatus interface {
	Status() livesync.Status
}

// SyncHandlers reports the event channel state so clients can surface a
// stale-data indicator.
type SyncHandlers struct {
	channel channelStatus
}

// NewSyncHandlers constructs channel status handlers.
func NewSyncHandlers(channel channelStatus) *SyncHandlers {
	return &SyncHandlers{channel: channel}
}

// Routes wires the /sync endpoints onto the provided router.
func (h *SyncHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/status", h.status)
}

func (h *SyncHandlers) status(w http.ResponseWriter, r *http.Request) {
	status := livesync.StatusStale
	if h.channel != nil {
		status = h.channel.Status()
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": string(status),
		"live":   status == livesync.StatusLive,
	})
}
