package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/personasim/internal/api/shared"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/service/auth"
	"github.com/phrazzld/personasim/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrNotOwned):
		return http.StatusForbidden

	case errors.Is(err, service.ErrPersonaNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, domain.ErrUnauthorized):
		return "Invalid token"

	case errors.Is(err, service.ErrNotOwned):
		return "You do not own this resource"

	case errors.Is(err, service.ErrPersonaNotFound):
		return "Persona not found"
	case errors.Is(err, service.ErrProductNotFound):
		return "Product not found"
	case errors.Is(err, service.ErrSessionNotFound):
		return "Session not found"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation):
		return "Invalid request"

	case errors.Is(err, task.ErrQueueClosed):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// fallback replaces the generic message of unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		msg = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError turns validator output into a short message
// naming the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fieldPath(fe.Namespace()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// fieldPath drops the root struct name from a validator namespace, so
// "CreateSessionRequest.ProductIDs[0]" becomes "ProductIDs[0]".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "len":
		return "wrong length"
	case "oneof":
		return "invalid value"
	case "gtefield":
		return "must not be below its lower bound"
	default:
		return "validation failed"
	}
}
