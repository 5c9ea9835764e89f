package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	g, err := l.TryAcquire(ctx, "session-completion:a", time.Second)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "session-completion:a", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	other, err := l.TryAcquire(ctx, "session-completion:b", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, g.Release(ctx))
	require.NoError(t, g.Release(ctx))

	g, err = l.TryAcquire(ctx, "session-completion:a", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx))

	l.mu.Lock()
	assert.Empty(t, l.slots)
	l.mu.Unlock()
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	g, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = g.Release(ctx)
	}()

	g2, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, g2.Release(ctx))
}

func TestLocalLockerContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	g, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer func() { _ = g.Release(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.TryAcquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		holders atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := l.TryAcquire(ctx, "k", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			_ = g.Release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}
