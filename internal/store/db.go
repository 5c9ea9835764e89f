package store

import (
	"context"
	"database/sql"
)

// DBTX is what the postgres stores run their queries on. Both *sql.DB and
// *sql.Tx satisfy it, so the same store serves pooled reads and the
// transaction of a UnitOfWork.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner opens the transaction behind RunInTransaction. *sql.DB
// satisfies it; tests pass a sqlmock connection.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
