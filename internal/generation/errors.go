package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrResponseTooLarge is returned when a response exceeds the configured size limit
	ErrResponseTooLarge = errors.New("response from language model too large")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error calling language model")

	// ErrCircuitOpen is returned while the provider circuit breaker is open
	ErrCircuitOpen = errors.New("language model circuit breaker open")

	// ErrInvalidConfig is returned when the gateway configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// GatewayError is returned by every gateway operation that fails. Retriable
// tells callers whether trying again later may succeed.
type GatewayError struct {
	Op         string // e.g. "persona_details", "feedback"
	Provider   string
	StatusCode int // upstream HTTP status, 0 when none was received
	Retriable  bool
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Retriable {
		kind = "retriable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s via %s failed (%s, status %d): %v", e.Op, e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s via %s failed (%s): %v", e.Op, e.Provider, kind, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is a gateway failure worth retrying.
// Errors that are not GatewayErrors are treated as retriable infrastructure
// failures unless they wrap one of the permanent sentinels.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retriable
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	return true
}
