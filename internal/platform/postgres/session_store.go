package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
)

// PostgresSessionStore implements store.SessionStore.
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a session store on db.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSessionStore{
		db:     db,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

var _ store.SessionStore = (*PostgresSessionStore)(nil)

// Create implements store.SessionStore.Create
func (s *PostgresSessionStore) Create(ctx context.Context, session *domain.FeedbackSession) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO feedback_sessions (id, owner_id, language_code, status, total_results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.OwnerID,
		session.LanguageCode,
		session.Status,
		session.TotalResults,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create feedback session",
			slog.String("error", err.Error()),
			slog.String("session_id", session.ID.String()))
		return MapError(err)
	}

	log.Info("feedback session created",
		slog.String("session_id", session.ID.String()),
		slog.Int("total_results", session.TotalResults))
	return nil
}

// GetByID implements store.SessionStore.GetByID
func (s *PostgresSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackSession, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, owner_id, language_code, status, insights, total_results, created_at, updated_at, completed_at
		FROM feedback_sessions
		WHERE id = $1
	`
	var (
		session     domain.FeedbackSession
		status      string
		insights    []byte
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.OwnerID,
		&session.LanguageCode,
		&status,
		&insights,
		&session.TotalResults,
		&session.CreatedAt,
		&session.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		log.Error("failed to get feedback session",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	if len(insights) > 0 {
		session.Insights = json.RawMessage(insights)
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	return &session, nil
}

// CompleteIfPending implements store.SessionStore.CompleteIfPending
func (s *PostgresSessionStore) CompleteIfPending(
	ctx context.Context,
	id uuid.UUID,
	insights json.RawMessage,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE feedback_sessions
		SET status = 'COMPLETED', insights = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'COMPLETED'
	`
	result, err := s.db.ExecContext(ctx, query, id, []byte(insights))
	if err != nil {
		log.Error("failed to complete feedback session",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return false, MapError(err)
	}

	changed, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	log.Debug("session completion write",
		slog.String("session_id", id.String()),
		slog.Bool("changed", changed))
	return changed, nil
}

// ListPendingIDs implements store.SessionStore.ListPendingIDs
func (s *PostgresSessionStore) ListPendingIDs(
	ctx context.Context,
	createdBefore time.Time,
	limit int,
) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM feedback_sessions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, createdBefore, limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list pending sessions",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
