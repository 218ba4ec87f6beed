package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/bus"
	"github.com/hookline/hookline/internal/store"
)

type createEndpointRequest struct {
	Name string `json:"name" validate:"max=100"`
}

type endpointResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	CaptureURL string `json:"capture_url"`
	CreatedAt  string `json:"created_at"`
}

func (h *Handler) endpointResponse(e *store.Endpoint) endpointResponse {
	return endpointResponse{
		ID:         e.ID,
		Name:       e.Name,
		CaptureURL: fmt.Sprintf("%s/h/%s", h.baseURL, e.ID),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req createEndpointRequest
	// An empty body is fine; the name is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, ValidationError(err))
		return
	}

	endpoint, err := h.store.CreateEndpoint(r.Context(), uuid.New().String(), req.Name, identity.OwnerKey())
	if err != nil {
		h.logger.Printf("create endpoint: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	respondWithJSON(w, http.StatusCreated, h.endpointResponse(endpoint))
}

func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	endpoints, err := h.store.ListEndpoints(r.Context(), identity.Keys(), 50)
	if err != nil {
		h.logger.Printf("list endpoints: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}

	out := make([]endpointResponse, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, h.endpointResponse(e))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// DeleteEndpoint removes an endpoint and, through the store's cascade,
// every request captured against it.
func (h *Handler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	endpointID := chi.URLParam(r, "endpointID")

	endpoint, err := h.store.GetEndpoint(r.Context(), endpointID)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	if err != nil {
		h.logger.Printf("delete endpoint %s: %v", endpointID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}

	owned := false
	for _, key := range identity.Keys() {
		if endpoint.OwnerKey == key {
			owned = true
			break
		}
	}
	if !owned {
		respondWithError(w, http.StatusForbidden, "not the endpoint owner")
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), endpointID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Printf("delete endpoint %s: %v", endpointID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRequests returns recent captured requests, newest first, capped at
// the catch-up bound.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	limit := bus.SnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	if _, err := h.store.GetEndpoint(r.Context(), endpointID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		h.logger.Printf("list requests %s: %v", endpointID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	reqs, err := h.store.RecentRequests(r.Context(), endpointID, limit)
	if err != nil {
		h.logger.Printf("list requests %s: %v", endpointID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	respondWithJSON(w, http.StatusOK, toRequestJSONs(reqs))
}
