package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/logger"
)

// defaultLockPollInterval is how often a waiting TryAcquire retries.
const defaultLockPollInterval = 100 * time.Millisecond

// AdvisoryLocker implements lock.Locker with session-level PostgreSQL
// advisory locks. Each guard pins one pooled connection; if the process
// dies the connection drops and the server releases the lock.
type AdvisoryLocker struct {
	db           *sql.DB
	logger       *slog.Logger
	pollInterval time.Duration
}

var _ lock.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker creates an AdvisoryLocker on db.
func NewAdvisoryLocker(db *sql.DB, logger *slog.Logger) *AdvisoryLocker {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{
		db:           db,
		logger:       logger.With(slog.String("component", "advisory_locker")),
		pollInterval: defaultLockPollInterval,
	}
}

// WithPollInterval overrides how often a waiting caller retries.
func (l *AdvisoryLocker) WithPollInterval(d time.Duration) *AdvisoryLocker {
	if d > 0 {
		l.pollInterval = d
	}
	return l
}

// TryAcquire implements lock.Locker.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (lock.Guard, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for lock %s: %w", key, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&acquired)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to try lock %s: %w", key, err)
		}
		if acquired {
			return &advisoryGuard{conn: conn, key: key, logger: l.logger}, nil
		}

		wait := min(l.pollInterval, time.Until(deadline))
		if wait <= 0 {
			_ = conn.Close()
			return nil, lock.ErrTimeout
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

type advisoryGuard struct {
	conn   *sql.Conn
	key    string
	logger *slog.Logger
	once   sync.Once
	err    error
}

func (g *advisoryGuard) Release(ctx context.Context) error {
	g.once.Do(func() { g.err = g.release(ctx) })
	return g.err
}

func (g *advisoryGuard) release(ctx context.Context) error {
	var released bool
	err := g.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, g.key).Scan(&released)
	if err != nil || !released {
		logger.FromContextOrDefault(ctx, g.logger).Warn("advisory unlock failed, discarding connection",
			slog.String("key", g.key),
			slog.Bool("released", released),
			slog.Any("error", err))
		// A session lock lives as long as its connection, so a connection
		// that may still hold it must not go back to the pool.
		_ = g.conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = g.conn.Close()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", g.key, err)
		}
		return nil
	}
	return g.conn.Close()
}
