package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hookline/hookline/internal/store"
)

// WebSocket serves the same stream as Events over a websocket: one
// "snapshot" message, then "new_request" messages in arrival order.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")
	if endpointID == "" {
		http.Error(w, "missing endpoint ID", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub, snapshot, err := h.bus.Join(r.Context(), endpointID)
	if err != nil {
		msg := "internal error"
		if errors.Is(err, store.ErrNotFound) {
			msg = "endpoint not found"
		} else {
			h.logger.Printf("websocket: join %s: %v", endpointID, err)
		}
		conn.WriteJSON(map[string]string{"type": "error", "error": msg})
		return
	}
	defer h.bus.Leave(sub)

	if err := conn.WriteJSON(map[string]any{
		"type":     "snapshot",
		"requests": toRequestJSONs(snapshot),
	}); err != nil {
		return
	}

	// Reads only serve close detection; clients do not send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Printf("websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case req, ok := <-sub.C():
			if !ok {
				return
			}
			if sub.Seen(req) {
				continue
			}
			if err := conn.WriteJSON(map[string]any{
				"type":    "new_request",
				"request": toRequestJSON(req),
			}); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
