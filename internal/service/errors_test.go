package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name:     "with underlying error",
			err:      &ServiceError{Operation: "create_session", Message: "failed to save", Err: errors.New("connection reset")},
			expected: "create_session failed: failed to save: connection reset",
		},
		{
			name:     "without underlying error",
			err:      &ServiceError{Operation: "create_service", Message: "stores cannot be nil"},
			expected: "create_service failed: stores cannot be nil",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestNewServiceError(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "nil", err: nil, target: nil},
		{name: "persona not found", err: fmt.Errorf("load: %w", store.ErrPersonaNotFound), target: ErrPersonaNotFound},
		{name: "product not found", err: store.ErrProductNotFound, target: ErrProductNotFound},
		{name: "session not found", err: store.ErrSessionNotFound, target: ErrSessionNotFound},
		{name: "not owned", err: ErrNotOwned, target: ErrNotOwned},
		{name: "domain validation", err: domain.ErrInvalidPersonaAge, target: ErrInvalidInput},
		{name: "invalid entity", err: fmt.Errorf("%w: bad row", store.ErrInvalidEntity), target: ErrInvalidInput},
		{name: "unexpected", err: cause, target: cause},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewServiceError("op", "message", tc.err)
			if tc.target == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.target)
		})
	}

	var svcErr *ServiceError
	assert.ErrorAs(t, NewServiceError("op", "message", cause), &svcErr)
	assert.Equal(t, "op", svcErr.Operation)
	assert.False(t, errors.As(NewServiceError("op", "message", store.ErrSessionNotFound), &svcErr))
}
