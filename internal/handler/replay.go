package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookline/hookline/internal/store"
)

var replayClient = &http.Client{Timeout: 30 * time.Second}

// ReplayRequest re-sends a captured request to its own endpoint, producing
// a fresh capture with a new sequence number.
func (h *Handler) ReplayRequest(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")
	seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid sequence number")
		return
	}

	reqData, err := h.store.GetRequest(r.Context(), endpointID, seq)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.logger.Printf("replay: loading %s/%d: %v", endpointID, seq, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load request")
		return
	}

	targetURL := fmt.Sprintf("%s/h/%s", h.baseURL, endpointID)
	newReq, err := http.NewRequestWithContext(r.Context(), reqData.Method, targetURL, bytes.NewReader(reqData.Body))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to create replay request")
		return
	}
	for _, p := range reqData.Headers {
		// These must describe the new request, not the captured one.
		if p.Name == "Host" || p.Name == "Content-Length" || p.Name == "Connection" {
			continue
		}
		newReq.Header.Add(p.Name, p.Value)
	}

	resp, err := replayClient.Do(newReq)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to replay request: "+err.Error())
		return
	}
	defer resp.Body.Close()

	respondWithJSON(w, http.StatusOK, map[string]string{"status": resp.Status})
}
