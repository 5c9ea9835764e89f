package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
)

// PostgresResultStore implements store.ResultStore.
type PostgresResultStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresResultStore creates a feedback result store on db.
func NewPostgresResultStore(db store.DBTX, logger *slog.Logger) *PostgresResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresResultStore{
		db:     db,
		logger: logger.With(slog.String("component", "result_store")),
	}
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

const resultColumns = `id, session_id, persona_id, product_id, status, feedback,
		purchase_intent, concerns, error_message, created_at, updated_at`

// CreateBatch implements store.ResultStore.CreateBatch
// Callers run it inside the transaction that creates the session.
func (s *PostgresResultStore) CreateBatch(ctx context.Context, results []*domain.FeedbackResult) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO feedback_results (id, session_id, persona_id, product_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, r := range results {
		_, err := s.db.ExecContext(ctx, query,
			r.ID,
			r.SessionID,
			r.PersonaID,
			r.ProductID,
			r.Status,
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			log.Error("failed to create feedback result",
				slog.String("error", err.Error()),
				slog.String("result_id", r.ID.String()),
				slog.String("session_id", r.SessionID.String()))
			return MapError(err)
		}
	}

	log.Debug("feedback results created", slog.Int("count", len(results)))
	return nil
}

// GetByID implements store.ResultStore.GetByID
func (s *PostgresResultStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackResult, error) {
	query := `SELECT ` + resultColumns + ` FROM feedback_results WHERE id = $1`

	r, err := scanResult(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrResultNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get feedback result",
			slog.String("error", err.Error()),
			slog.String("result_id", id.String()))
		return nil, err
	}
	return r, nil
}

// MarkInProgress implements store.ResultStore.MarkInProgress
func (s *PostgresResultStore) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE feedback_results
		SET status = 'IN_PROGRESS', error_message = '', updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'FAILED')
	`
	return s.transition(ctx, "mark_in_progress", id, query, id)
}

// Complete implements store.ResultStore.Complete
func (s *PostgresResultStore) Complete(ctx context.Context, id uuid.UUID, feedback domain.Feedback) (bool, error) {
	if err := feedback.Validate(); err != nil {
		return false, err
	}
	concerns, err := json.Marshal(feedback.Concerns)
	if err != nil {
		return false, fmt.Errorf("failed to encode concerns: %w", err)
	}

	query := `
		UPDATE feedback_results
		SET status = 'COMPLETED', feedback = $2, purchase_intent = $3, concerns = $4,
			error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`
	return s.transition(ctx, "complete", id, query, id, feedback.Narrative, feedback.PurchaseIntent, concerns)
}

// MarkFailed implements store.ResultStore.MarkFailed
func (s *PostgresResultStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE feedback_results
		SET status = 'FAILED', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`
	return s.transition(ctx, "mark_failed", id, query, id, errMsg)
}

func (s *PostgresResultStore) transition(
	ctx context.Context,
	op string,
	id uuid.UUID,
	query string,
	args ...any,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("feedback result transition failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
			slog.String("result_id", id.String()))
		return false, MapError(err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	log.Debug("feedback result transition",
		slog.String("op", op),
		slog.String("result_id", id.String()),
		slog.Bool("changed", changed))
	return changed, nil
}

// CountTerminal implements store.ResultStore.CountTerminal
func (s *PostgresResultStore) CountTerminal(ctx context.Context, sessionID uuid.UUID) (store.TerminalCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM feedback_results
		WHERE session_id = $1
	`
	var c store.TerminalCounts
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&c.Completed, &c.Failed); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count terminal results",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return store.TerminalCounts{}, MapError(err)
	}
	return c, nil
}

// ListCompleted implements store.ResultStore.ListCompleted
func (s *PostgresResultStore) ListCompleted(ctx context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM feedback_results
		WHERE session_id = $1 AND status = 'COMPLETED'
		ORDER BY created_at ASC, id ASC`
	return s.list(ctx, query, sessionID)
}

// ListBySession implements store.ResultStore.ListBySession
func (s *PostgresResultStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM feedback_results
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`
	return s.list(ctx, query, sessionID)
}

func (s *PostgresResultStore) list(ctx context.Context, query string, sessionID uuid.UUID) ([]*domain.FeedbackResult, error) {
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list feedback results",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.FeedbackResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResult(row rowScanner) (*domain.FeedbackResult, error) {
	var (
		r        domain.FeedbackResult
		status   string
		intent   sql.NullInt64
		concerns []byte
	)
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.PersonaID,
		&r.ProductID,
		&status,
		&r.Feedback,
		&intent,
		&concerns,
		&r.ErrorMessage,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.ResultStatus(status)
	if intent.Valid {
		r.PurchaseIntent = int(intent.Int64)
	}
	if len(concerns) > 0 {
		if err := json.Unmarshal(concerns, &r.Concerns); err != nil {
			return nil, fmt.Errorf("failed to decode concerns: %w", err)
		}
		if len(r.Concerns) == 0 {
			r.Concerns = nil
		}
	}
	return &r, nil
}
