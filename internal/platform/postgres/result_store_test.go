package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resultRowColumns = []string{
	"id", "session_id", "persona_id", "product_id", "status", "feedback",
	"purchase_intent", "concerns", "error_message", "created_at", "updated_at",
}

func newResultStore(t *testing.T) (*postgres.PostgresResultStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewPostgresResultStore(db, logger.Discard()), mock
}

func TestResultStoreCreateBatch(t *testing.T) {
	s, mock := newResultStore(t)

	_, results, err := domain.NewFeedbackSession(uuid.New(), "en",
		[]uuid.UUID{uuid.New()}, []uuid.UUID{uuid.New(), uuid.New()})
	require.NoError(t, err)

	for range results {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feedback_results")).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	require.NoError(t, s.CreateBatch(context.Background(), results))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultStoreCreateBatchForeignKey(t *testing.T) {
	s, mock := newResultStore(t)

	_, results, err := domain.NewFeedbackSession(uuid.New(), "en",
		[]uuid.UUID{uuid.New()}, []uuid.UUID{uuid.New()})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feedback_results")).
		WillReturnError(newPgError("23503"))

	err = s.CreateBatch(context.Background(), results)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestResultStoreTransitions(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("mark in progress only from claimable states", func(t *testing.T) {
		s, mock := newResultStore(t)
		q := regexp.QuoteMeta("WHERE id = $1 AND status IN ('PENDING', 'FAILED')")
		mock.ExpectExec(q).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

		changed, err := s.MarkInProgress(ctx, id)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.MarkInProgress(ctx, id)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("complete stores feedback", func(t *testing.T) {
		s, mock := newResultStore(t)
		fb := domain.Feedback{Narrative: "Solid.", PurchaseIntent: 8, Concerns: []string{"price", "size"}}
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'COMPLETED'")).
			WithArgs(id, "Solid.", 8, []byte(`["price","size"]`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, err := s.Complete(ctx, id, fb)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("complete validates before writing", func(t *testing.T) {
		s, mock := newResultStore(t)
		fb := domain.Feedback{Narrative: "Solid.", PurchaseIntent: 11, Concerns: []string{"a", "b"}}

		_, err := s.Complete(ctx, id, fb)
		assert.ErrorIs(t, err, domain.ErrInvalidIntent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark failed", func(t *testing.T) {
		s, mock := newResultStore(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'FAILED', error_message = $2")).
			WithArgs(id, "provider unavailable").
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, err := s.MarkFailed(ctx, id, "provider unavailable")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResultStoreCountTerminal(t *testing.T) {
	s, mock := newResultStore(t)
	sessionID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = 'COMPLETED')")).
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "failed"}).AddRow(4, 2))

	c, err := s.CountTerminal(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.TerminalCounts{Completed: 4, Failed: 2}, c)
	assert.Equal(t, 6, c.Total())
}

func TestResultStoreListCompleted(t *testing.T) {
	s, mock := newResultStore(t)
	sessionID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows(resultRowColumns).
		AddRow(uuid.New().String(), sessionID.String(), uuid.New().String(), uuid.New().String(),
			"COMPLETED", "Love it", 9, []byte(`["price","battery"]`), "", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1 AND status = 'COMPLETED'")).
		WithArgs(sessionID).
		WillReturnRows(rows)

	results, err := s.ListCompleted(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.ResultStatusCompleted, results[0].Status)
	assert.Equal(t, 9, results[0].PurchaseIntent)
	assert.Equal(t, []string{"price", "battery"}, results[0].Concerns)
}

func TestResultStoreGetByIDPending(t *testing.T) {
	s, mock := newResultStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows(resultRowColumns).
		AddRow(id.String(), uuid.New().String(), uuid.New().String(), uuid.New().String(),
			"PENDING", "", nil, []byte(`[]`), "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback_results WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(rows)

	r, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, r.PurchaseIntent)
	assert.Nil(t, r.Concerns)

	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback_results WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(resultRowColumns))
	_, err = s.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrResultNotFound)
}
