package task

import (
	"errors"
	"time"
)

// Common task errors
var (
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidMessage = errors.New("invalid task message")
	ErrNoHandler      = errors.New("no handler registered for task type")
	ErrNilDependency  = errors.New("task handler dependency cannot be nil")
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runner dead-letters the task at once instead
// of retrying it. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// deferredError asks for a later delivery that does not use up an attempt.
type deferredError struct {
	err   error
	delay time.Duration
}

func (e *deferredError) Error() string { return e.err.Error() }
func (e *deferredError) Unwrap() error { return e.err }

// Defer wraps err so the runner puts the task back for delay without
// counting the delivery against its attempts. Handlers use it for work
// that is waiting on another task rather than failing. Defer(nil, d) is nil.
func Defer(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &deferredError{err: err, delay: delay}
}

// deferral reports the delay requested with Defer, if any.
func deferral(err error) (time.Duration, bool) {
	var d *deferredError
	if errors.As(err, &d) {
		return d.delay, true
	}
	return 0, false
}

// IsDeferred reports whether err was marked with Defer and not also with
// Permanent.
func IsDeferred(err error) bool {
	_, ok := deferral(err)
	return ok && !IsPermanent(err)
}
