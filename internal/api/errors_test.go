package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/personasim/internal/api/shared"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/service/auth"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "Token expired"},
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized, "Invalid token"},
		{"not owned", service.ErrNotOwned, http.StatusForbidden, "You do not own this resource"},
		{"persona missing", fmt.Errorf("load: %w", service.ErrPersonaNotFound), http.StatusNotFound, "Persona not found"},
		{"product missing", service.ErrProductNotFound, http.StatusNotFound, "Product not found"},
		{"session missing", service.ErrSessionNotFound, http.StatusNotFound, "Session not found"},
		{"invalid input", fmt.Errorf("%w: too many", service.ErrInvalidInput), http.StatusBadRequest, "Invalid request"},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest, "Invalid ID"},
		{"queue closed", task.ErrQueueClosed, http.StatusServiceUnavailable, "Service is shutting down"},
		{"unknown", errors.New("connection reset by 10.0.0.3"), http.StatusInternalServerError, "An unexpected error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.status, MapErrorToStatusCode(tc.err))
			assert.Equal(t, tc.message, GetSafeErrorMessage(tc.err))
		})
	}
}

type batchShape struct {
	Count int `validate:"gte=1"`
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := shared.ValidateRequest(&batchShape{})
	assert.Equal(t, "Invalid Count: too small", SanitizeValidationError(err))

	err = shared.ValidateRequest(&CreatePersonasRequest{Personas: []PersonaRequest{{}}})
	assert.Equal(t, "Invalid Personas[0].Demographics.Age: too small", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("opaque")))
}
