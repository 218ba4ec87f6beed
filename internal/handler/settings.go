package handler

import (
	"encoding/json"
	"net/http"
)

type updateSettingsRequest struct {
	Enabled           *bool  `json:"enabled"`
	NotificationEmail string `json:"notification_email" validate:"omitempty,email"`
}

// UpdateSettings applies notification-preference writes for the caller.
// Writes land under both the subject id and the account email, and an
// address change purges stale rows carrying the old address.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, ValidationError(err))
		return
	}
	if req.Enabled == nil && req.NotificationEmail == "" {
		respondWithError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	ctx := r.Context()
	if req.NotificationEmail != "" {
		if err := h.settings.SetEmail(ctx, identity.SubjectID, identity.Email, req.NotificationEmail); err != nil {
			h.logger.Printf("settings: set email for %s: %v", identity.SubjectID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to update settings")
			return
		}
	}
	if req.Enabled != nil {
		var err error
		if *req.Enabled {
			err = h.settings.Enable(ctx, identity.SubjectID, identity.Email)
		} else {
			err = h.settings.Disable(ctx, identity.SubjectID, identity.Email)
		}
		if err != nil {
			h.logger.Printf("settings: toggle for %s: %v", identity.SubjectID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to update settings")
			return
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
