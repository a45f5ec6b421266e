package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/queue"
	"github.com/repodocs/repodocs-api/internal/service/callback"
	"github.com/repodocs/repodocs-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, callback.ErrInvalidToken),
		errors.Is(err, callback.ErrExpiredToken):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, queue.ErrNotJobOwner):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrLogEntryNotFound):
		return http.StatusNotFound

	// Conflict errors: the job moved on underneath the caller. Losing a
	// lease and attempting an invalid transition both mean the caller's
	// view of the job is stale.
	case errors.Is(err, store.ErrNotOwner),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDedupeKeyExists):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	// Map specific error types to user-friendly messages
	switch {
	// Authentication errors
	case errors.Is(err, callback.ErrExpiredToken):
		return "Callback token expired"

	case errors.Is(err, callback.ErrInvalidToken):
		return "Invalid callback token"

	// Authorization errors
	case errors.Is(err, queue.ErrNotJobOwner):
		return "You do not own this job"

	// Not found errors
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, store.ErrLogEntryNotFound):
		return "Log entry not found"

	// Conflict errors
	case errors.Is(err, store.ErrNotOwner):
		return "Job lease is no longer held by this worker"

	case errors.Is(err, store.ErrInvalidTransition):
		return "Job is not in a state that allows this operation"

	case errors.Is(err, store.ErrDedupeKeyExists):
		return "An active job with this deduplication key already exists"

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation):
		return "Invalid request data"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid identifier format"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'EnqueueJobRequest.Prompt' Error:Field validation for 'Prompt' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			// Further split to get just the field validation part
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				// Create a cleaner error message
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid":
		return "invalid identifier format"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
