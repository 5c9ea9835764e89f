package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
)

// TxFn runs inside a transaction. Returning an error rolls the transaction
// back; returning nil commits it.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn in a transaction with default options.
//
// Begin and commit failures wrap ErrTransactionFailed. An error from fn is
// returned as is once the rollback succeeds. A panic in fn rolls back and
// propagates.
func RunInTransaction(ctx context.Context, db TxBeginner, fn TxFn) error {
	return RunInTransactionWithOptions(ctx, db, nil, fn)
}

// RunInTransactionWithOptions is RunInTransaction with explicit options.
func RunInTransactionWithOptions(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn TxFn) (err error) {
	log := logger.FromContextOrDefault(ctx, slog.Default())

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		log.Error("transaction begin failed", slog.String("error", redact.Error(err)))
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback after panic failed",
				slog.String("error", redact.Error(rbErr)),
				slog.Any("panic", p))
		} else {
			log.Error("transaction rolled back after panic", slog.Any("panic", p))
		}
		// ALLOW-PANIC: the caller's panic continues unwinding
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		return rollback(tx, err, log)
	}

	if err := tx.Commit(); err != nil {
		log.Error("transaction commit failed", slog.String("error", redact.Error(err)))
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}
	log.Debug("transaction committed")
	return nil
}

// rollback aborts tx after cause. A failed rollback is reported alongside
// cause, which stays matchable with errors.Is.
func rollback(tx *sql.Tx, cause error, log *slog.Logger) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		log.Error("transaction rollback failed",
			slog.String("rollback_error", redact.Error(rbErr)),
			slog.String("cause", redact.Error(cause)))
		return fmt.Errorf("rollback failed: %v (cause: %w)", rbErr, cause)
	}
	log.Debug("transaction rolled back", slog.String("cause", redact.Error(cause)))
	return cause
}
