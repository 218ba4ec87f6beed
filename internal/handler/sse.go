package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookline/hookline/internal/store"
)

// Events streams captured requests for one endpoint as server-sent events.
// The first event is either "error" or "snapshot" (the catch-up history,
// oldest first); each later "new_request" event carries one record in
// arrival order.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")
	if endpointID == "" {
		http.Error(w, "missing endpoint ID", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	sub, snapshot, err := h.bus.Join(r.Context(), endpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeSSE(w, "error", map[string]string{"error": "endpoint not found"})
		} else {
			h.logger.Printf("sse: join %s: %v", endpointID, err)
			writeSSE(w, "error", map[string]string{"error": "internal error"})
		}
		flusher.Flush()
		return
	}
	defer h.bus.Leave(sub)

	writeSSE(w, "snapshot", toRequestJSONs(snapshot))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-sub.C():
			if !ok {
				return
			}
			if sub.Seen(req) {
				continue
			}
			writeSSE(w, "new_request", toRequestJSON(req))
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"error\":\"encoding failure\"}\n\n")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
