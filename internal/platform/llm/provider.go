package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/phrazzld/personasim/internal/generation"
)

// ChatRequest is a single system+user exchange sent to a provider.
type ChatRequest struct {
	System      string
	User        string
	Temperature float32
}

// Provider is one LLM backend. Complete returns the raw text of the first
// candidate; it does no retrying of its own.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// StatusError is returned by providers when the upstream answered with a
// non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// retriableStatus reports whether an upstream status is worth another attempt.
func retriableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classify decides whether a failed attempt may be retried. parent is the
// caller's context; a per-attempt timeout that fired while parent is still
// alive counts as transient.
func classify(parent context.Context, err error) (status int, retriable bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, retriableStatus(statusErr.StatusCode)
	}
	if errors.Is(err, generation.ErrContentBlocked) ||
		errors.Is(err, generation.ErrInvalidResponse) ||
		errors.Is(err, generation.ErrInvalidConfig) {
		return 0, false
	}
	if parent.Err() != nil {
		// Shutdown or caller cancellation. The task queue redelivers.
		return 0, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return 0, true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return 0, true
	}
	return 0, false
}
