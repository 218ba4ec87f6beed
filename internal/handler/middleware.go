package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hookline/hookline/internal/auth"
)

type contextKey string

const identityContextKey = contextKey("identity")

// Authenticate verifies the Bearer token and stores the resulting identity
// in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondWithError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			respondWithError(w, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		identity, err := h.verifier.Verify(headerParts[1])
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				respondWithError(w, http.StatusUnauthorized, "Token has expired")
			} else {
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*auth.Identity)
	return identity, ok
}
