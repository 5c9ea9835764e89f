package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "feedback_results",
		ColumnName:     "persona_id",
		ConstraintName: "feedback_results_persona_id_fkey",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		is   error
	}{
		{name: "no rows", err: sql.ErrNoRows, is: store.ErrNotFound},
		{name: "unique", err: newPgError("23505"), is: store.ErrDuplicate},
		{name: "foreign key", err: newPgError("23503"), is: store.ErrInvalidEntity},
		{name: "check", err: newPgError("23514"), is: store.ErrInvalidEntity},
		{name: "not null", err: newPgError("23502"), is: store.ErrInvalidEntity},
		{name: "wrapped unique", err: fmt.Errorf("insert: %w", newPgError("23505")), is: store.ErrDuplicate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, postgres.MapError(tc.err), tc.is)
		})
	}

	assert.NoError(t, postgres.MapError(nil))

	other := errors.New("connection refused")
	assert.Same(t, other, postgres.MapError(other))
}

func TestViolationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
	assert.True(t, postgres.IsForeignKeyViolation(fmt.Errorf("x: %w", newPgError("23503"))))
	assert.False(t, postgres.IsForeignKeyViolation(errors.New("plain")))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 1), "persona"))

	err := postgres.CheckRowsAffected(sqlmock.NewResult(0, 0), "persona")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "persona not found")

	err = postgres.CheckRowsAffected(sqlmock.NewErrorResult(errors.New("driver")), "")
	assert.ErrorContains(t, err, "failed to get rows affected")
}
