package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

const sseHeartbeat = 15 * time.Second

// WithEvents enables the admin Server-Sent Events stream.
func WithEvents(hub *events.Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

// StreamEvents pushes order lifecycle events to the client as Server-Sent
// Events until it disconnects or falls too far behind.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "events_disabled", "")
		return
	}
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.WarnContext(r.Context(), "event stream not flushable", "error", err)
		return
	}

	sub := h.hub.Register(r.Context())
	defer h.hub.Unregister(sub)
	slog.InfoContext(r.Context(), "event stream opened", "subscription", sub.ID)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case e, ok := <-sub.C:
			if !ok {
				slog.InfoContext(r.Context(), "event stream closed", "subscription", sub.ID)
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
