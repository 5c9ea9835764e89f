package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker implements Locker within one process. Each key maps to a
// single-slot channel; holding the slot is holding the lock.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (Guard, error) {
	s := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &localGuard{locker: l, key: key, slot: s}, nil
	case <-timer.C:
		l.unref(key)
		return nil, ErrTimeout
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

// unref drops unused slots so the map does not grow with every key seen.
func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localGuard struct {
	locker *LocalLocker
	key    string
	slot   *slot
	once   sync.Once
}

func (g *localGuard) Release(context.Context) error {
	g.once.Do(func() {
		<-g.slot.ch
		g.locker.unref(g.key)
	})
	return nil
}
