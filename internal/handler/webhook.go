package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hookline/hookline/internal/store"
)

// CaptureWebhook is the ingestion entry point. It accepts any method,
// headers, query, and body. The response reflects only the durable append:
// fan-out and notification outcomes never change it.
func (h *Handler) CaptureWebhook(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")
	if endpointID == "" {
		http.Error(w, "missing endpoint ID", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("capture: reading body for %s: %v", endpointID, err)
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	_, err = h.pipeline.Ingest(r.Context(), endpointID, r.Method, r.Header, r.URL.RawQuery, body)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "endpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Printf("capture: saving request for %s: %v", endpointID, err)
		http.Error(w, "failed to save request", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
