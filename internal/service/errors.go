package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/store"
)

// Common service errors. The API layer maps them to HTTP status codes.
var (
	// ErrNotOwned indicates a resource belongs to another owner.
	// API layer should map this to HTTP 403 Forbidden.
	ErrNotOwned = errors.New("resource is owned by another user")

	// ErrPersonaNotFound indicates that the persona does not exist.
	ErrPersonaNotFound = errors.New("persona not found")

	// ErrProductNotFound indicates that the product does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrSessionNotFound indicates that the feedback session does not exist.
	ErrSessionNotFound = errors.New("feedback session not found")

	// ErrInvalidInput indicates the request failed domain validation.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidInput = errors.New("invalid input")
)

// ServiceError wraps errors from a service operation with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g. "create_session")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a ServiceError. Known store and domain
// conditions are translated to the service sentinels, which are returned
// unwrapped.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotOwned), errors.Is(err, ErrPersonaNotFound),
		errors.Is(err, ErrProductNotFound), errors.Is(err, ErrSessionNotFound):
		return err
	case errors.Is(err, store.ErrPersonaNotFound):
		return ErrPersonaNotFound
	case errors.Is(err, store.ErrProductNotFound):
		return ErrProductNotFound
	case errors.Is(err, store.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, ErrInvalidInput):
		return err
	case isDomainValidation(err):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

func isDomainValidation(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrInvalidID,
		domain.ErrEmptyPersonaOwnerID,
		domain.ErrInvalidPersonaAge,
		domain.ErrEmptyProductName,
		domain.ErrEmptySessionOwner,
		domain.ErrEmptySessionMatrix,
		store.ErrInvalidEntity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
