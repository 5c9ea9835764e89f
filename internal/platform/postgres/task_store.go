package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// PostgresTaskStore implements the task.TaskStore interface using PostgreSQL.
// Claims use FOR UPDATE SKIP LOCKED so any number of runners can share the
// table.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ task.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = `id, type, queue, payload, status, attempts, max_attempts,
		last_error, available_at, locked_until, created_at, updated_at`

// Enqueue persists a task to the database
func (s *PostgresTaskStore) Enqueue(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (id, type, queue, payload, status, attempts, max_attempts,
			available_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Type,
		t.Queue,
		[]byte(t.Payload),
		string(t.Status),
		t.Attempts,
		t.MaxAttempts,
		t.AvailableAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", t.Type),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to save task to database: %w", MapError(err))
	}
	return nil
}

// Claim locks runnable tasks from queues and bumps their attempt counters.
func (s *PostgresTaskStore) Claim(
	ctx context.Context,
	queues []string,
	limit int,
	visibility time.Duration,
) ([]*task.Task, error) {
	if len(queues) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE tasks
		SET status = 'processing',
			attempts = attempts + 1,
			locked_until = NOW() + make_interval(secs => $3),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE queue = ANY(string_to_array($1, ','))
				AND ((status = 'pending' AND available_at <= NOW())
					OR (status = 'processing' AND locked_until < NOW()))
			ORDER BY available_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	rows, err := s.db.QueryContext(ctx, query, strings.Join(queues, ","), limit, visibility.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	if len(tasks) > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Debug("claimed tasks", slog.Int("count", len(tasks)))
	}
	return tasks, nil
}

// Ack marks a task completed.
func (s *PostgresTaskStore) Ack(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'completed', locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "ack", id, query, id)
}

// Retry releases a task for another attempt at availableAt.
func (s *PostgresTaskStore) Retry(ctx context.Context, id uuid.UUID, errMsg string, availableAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'pending', last_error = $2, available_at = $3,
			locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "retry", id, query, id, errMsg, availableAt)
}

// Defer releases a task without counting the delivery as an attempt.
func (s *PostgresTaskStore) Defer(ctx context.Context, id uuid.UUID, reason string, availableAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'pending', last_error = $2, available_at = $3,
			attempts = GREATEST(attempts - 1, 0), locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "defer", id, query, id, reason, availableAt)
}

// DeadLetter moves a task to the dead-letter queue of its type.
func (s *PostgresTaskStore) DeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'dead_lettered', queue = type || '.dlq', last_error = $2,
			locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "dead_letter", id, query, id, errMsg)
}

// ListDeadLettered returns dead-lettered tasks, newest first. An empty
// taskType lists every type.
func (s *PostgresTaskStore) ListDeadLettered(ctx context.Context, taskType string, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'dead_lettered' AND ($1 = '' OR type = $1)
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, taskType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// Requeue moves a dead-lettered task back to its queue with a fresh attempt
// budget.
func (s *PostgresTaskStore) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'pending', queue = type, attempts = 0, available_at = NOW(),
			locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dead_lettered'
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", MapError(err))
	}
	if err := CheckRowsAffected(result, "dead-lettered task"); err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("task requeued", slog.String("task_id", id.String()))
	return nil
}

func (s *PostgresTaskStore) exec(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("task update failed",
			slog.String("op", op),
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to %s task: %w", strings.ReplaceAll(op, "_", "-"), MapError(err))
	}
	return CheckRowsAffected(result, "task")
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		var (
			t           task.Task
			payload     []byte
			status      string
			lockedUntil sql.NullTime
		)
		err := rows.Scan(
			&t.ID,
			&t.Type,
			&t.Queue,
			&payload,
			&status,
			&t.Attempts,
			&t.MaxAttempts,
			&t.LastError,
			&t.AvailableAt,
			&lockedUntil,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		t.Payload = payload
		t.Status = task.TaskStatus(status)
		if lockedUntil.Valid {
			lu := lockedUntil.Time
			t.LockedUntil = &lu
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
