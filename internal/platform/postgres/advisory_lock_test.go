package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tryLockQuery = regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtext($1))")
	unlockQuery  = regexp.QuoteMeta("SELECT pg_advisory_unlock(hashtext($1))")
)

func newAdvisoryLocker(t *testing.T) (*postgres.AdvisoryLocker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewAdvisoryLocker(db, logger.Discard()).WithPollInterval(5 * time.Millisecond), mock
}

func boolRow(v bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"ok"}).AddRow(v)
}

func TestAdvisoryLockerAcquireAfterPoll(t *testing.T) {
	l, mock := newAdvisoryLocker(t)
	key := "session-completion:abc"

	mock.ExpectQuery(tryLockQuery).WithArgs(key).WillReturnRows(boolRow(false))
	mock.ExpectQuery(tryLockQuery).WithArgs(key).WillReturnRows(boolRow(true))
	mock.ExpectQuery(unlockQuery).WithArgs(key).WillReturnRows(boolRow(true))

	g, err := l.TryAcquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	require.NoError(t, g.Release(context.Background()))
	require.NoError(t, g.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockerTimeout(t *testing.T) {
	l, mock := newAdvisoryLocker(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 50; i++ {
		mock.ExpectQuery(tryLockQuery).WithArgs("k").WillReturnRows(boolRow(false))
	}

	_, err := l.TryAcquire(context.Background(), "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout)
}

func TestAdvisoryLockerQueryError(t *testing.T) {
	l, mock := newAdvisoryLocker(t)
	mock.ExpectQuery(tryLockQuery).WithArgs("k").WillReturnError(errors.New("connection refused"))

	_, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrTimeout)
}
