package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// NewStores binds every store to db, which may be a pool or a transaction.
func NewStores(db store.DBTX, logger *slog.Logger) store.Stores {
	return store.Stores{
		Personas: NewPostgresPersonaStore(db, logger),
		Products: NewPostgresProductStore(db, logger),
		Sessions: NewPostgresSessionStore(db, logger),
		Results:  NewPostgresResultStore(db, logger),
	}
}

// UnitOfWork implements store.UnitOfWork with one database transaction per
// call. Its Outbox inserts tasks into the tasks table inside that
// transaction.
type UnitOfWork struct {
	db              *sql.DB
	taskMaxAttempts int
	logger          *slog.Logger
}

var _ store.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a UnitOfWork on db. Tasks published through its
// outbox get taskMaxAttempts attempts.
func NewUnitOfWork(db *sql.DB, taskMaxAttempts int, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{db: db, taskMaxAttempts: taskMaxAttempts, logger: logger}
}

// Do implements store.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
	return store.RunInTransaction(ctx, u.db, func(ctx context.Context, tx *sql.Tx) error {
		stores := NewStores(tx, u.logger)
		stores.Outbox = task.NewOutbox(NewPostgresTaskStore(tx, u.logger), u.taskMaxAttempts)
		return fn(ctx, stores)
	})
}
