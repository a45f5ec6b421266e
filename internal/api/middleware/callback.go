package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/api/shared"
	"github.com/repodocs/repodocs-api/internal/redact"
	"github.com/repodocs/repodocs-api/internal/service/callback"
)

// TokenVerifier validates a callback token string and returns the job id
// it is bound to.
type TokenVerifier interface {
	Verify(tokenString string) (uuid.UUID, error)
}

// CallbackAuthMiddleware authenticates worker status updates. A callback
// token is a capability for exactly one job: the middleware verifies the
// bearer token and rejects the request unless the token's job id matches
// the {id} path parameter.
type CallbackAuthMiddleware struct {
	verifier TokenVerifier
}

// NewCallbackAuthMiddleware creates a new CallbackAuthMiddleware with the
// given verifier.
func NewCallbackAuthMiddleware(verifier TokenVerifier) *CallbackAuthMiddleware {
	return &CallbackAuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate validates callback tokens from the Authorization header and
// adds the verified job ID to the request context.
func (m *CallbackAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Check Bearer prefix
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		token := parts[1]

		// Validate token
		jobID, err := m.verifier.Verify(token)
		if err != nil {
			switch {
			case errors.Is(err, callback.ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Callback token expired")
			default:
				slog.Debug("callback token rejected", "error", redact.Error(err))
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid callback token")
			}
			return
		}

		// The token is a per-job capability; it must match the job named
		// in the path.
		pathID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
			return
		}
		if pathID != jobID {
			shared.RespondWithError(w, r, http.StatusForbidden, "Token does not match job")
			return
		}

		// Add job ID to context
		ctx := context.WithValue(r.Context(), shared.JobIDContextKey, jobID)

		// Continue with the authenticated request
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetJobID extracts the verified job ID from the request context.
// Returns the job ID and a boolean indicating if it was found.
func GetJobID(r *http.Request) (uuid.UUID, bool) {
	jobID, ok := r.Context().Value(shared.JobIDContextKey).(uuid.UUID)
	return jobID, ok
}
