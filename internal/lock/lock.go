// Package lock provides named mutual exclusion with a bounded wait.
//
// A Locker hands out at most one Guard per key at a time. Session
// completion uses it so only one coordinator aggregates a session.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait.
var ErrTimeout = errors.New("timed out waiting for lock")

// Locker acquires named locks.
type Locker interface {
	// TryAcquire blocks until key is held, timeout elapses or ctx is done.
	// It returns ErrTimeout when the wait runs out.
	TryAcquire(ctx context.Context, key string, timeout time.Duration) (Guard, error)
}

// Guard is a held lock.
type Guard interface {
	// Release gives the lock up. Calling it more than once is a no-op.
	Release(ctx context.Context) error
}
