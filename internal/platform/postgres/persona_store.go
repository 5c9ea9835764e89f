package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
)

// PostgresPersonaStore implements the store.PersonaStore interface
// using a PostgreSQL database as the storage backend.
type PostgresPersonaStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresPersonaStore creates a new PostgreSQL implementation of the PersonaStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// The generation marker methods commit on their own only when db is a *sql.DB;
// workers therefore build this store from the pool, never from a transaction.
// If logger is nil, a default logger will be used.
func NewPostgresPersonaStore(db store.DBTX, logger *slog.Logger) *PostgresPersonaStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPersonaStore{
		db:     db,
		logger: logger.With(slog.String("component", "persona_store")),
	}
}

// Ensure PostgresPersonaStore implements store.PersonaStore interface
var _ store.PersonaStore = (*PostgresPersonaStore)(nil)

const personaColumns = `id, owner_id, demographics, psychographics, fingerprint,
		generation_in_progress, generation_started_at, status, bio,
		product_evaluation_style, created_at, updated_at`

// Create implements store.PersonaStore.Create
func (s *PostgresPersonaStore) Create(ctx context.Context, persona *domain.Persona) error {
	_, err := s.insert(ctx, persona, false)
	return err
}

// CreateIfAbsent implements store.PersonaStore.CreateIfAbsent
func (s *PostgresPersonaStore) CreateIfAbsent(ctx context.Context, persona *domain.Persona) (bool, error) {
	return s.insert(ctx, persona, true)
}

func (s *PostgresPersonaStore) insert(ctx context.Context, persona *domain.Persona, skipExisting bool) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := persona.Validate(); err != nil {
		log.Warn("persona validation failed during create",
			slog.String("error", err.Error()),
			slog.String("persona_id", persona.ID.String()))
		return false, err
	}

	demographics, err := json.Marshal(persona.Demographics)
	if err != nil {
		return false, fmt.Errorf("failed to encode demographics: %w", err)
	}
	psychographics, err := json.Marshal(persona.Psychographics)
	if err != nil {
		return false, fmt.Errorf("failed to encode psychographics: %w", err)
	}

	query := `
		INSERT INTO personas (id, owner_id, demographics, psychographics, fingerprint,
			status, bio, product_evaluation_style, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if skipExisting {
		query += ` ON CONFLICT (id) DO NOTHING`
	}

	result, err := s.db.ExecContext(ctx, query,
		persona.ID,
		persona.OwnerID,
		demographics,
		psychographics,
		persona.Fingerprint,
		persona.Status,
		persona.Bio,
		persona.EvaluationStyle,
		persona.CreatedAt,
		persona.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create persona",
			slog.String("error", err.Error()),
			slog.String("persona_id", persona.ID.String()))
		return false, MapError(err)
	}

	inserted, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	log.Debug("persona stored",
		slog.String("persona_id", persona.ID.String()),
		slog.Bool("inserted", inserted))
	return inserted, nil
}

// GetByID implements store.PersonaStore.GetByID
// Returns store.ErrPersonaNotFound if the persona does not exist.
func (s *PostgresPersonaStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Persona, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + personaColumns + ` FROM personas WHERE id = $1`

	persona, err := scanPersona(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("persona not found", slog.String("persona_id", id.String()))
			return nil, store.ErrPersonaNotFound
		}
		log.Error("failed to get persona by ID",
			slog.String("error", err.Error()),
			slog.String("persona_id", id.String()))
		return nil, err
	}
	return persona, nil
}

// TryMarkGenerationInProgress implements store.PersonaStore.TryMarkGenerationInProgress
// A FAILED persona taken over by a new delivery goes back to GENERATING.
func (s *PostgresPersonaStore) TryMarkGenerationInProgress(
	ctx context.Context,
	id uuid.UUID,
	lease time.Duration,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE personas
		SET generation_in_progress = TRUE,
			generation_started_at = NOW(),
			status = 'GENERATING',
			updated_at = NOW()
		WHERE id = $1
			AND status <> 'ACTIVE'
			AND (generation_in_progress = FALSE
				OR generation_started_at IS NULL
				OR generation_started_at < NOW() - make_interval(secs => $2))
	`
	result, err := s.db.ExecContext(ctx, query, id, lease.Seconds())
	if err != nil {
		log.Error("failed to mark persona generation in progress",
			slog.String("error", err.Error()),
			slog.String("persona_id", id.String()))
		return false, MapError(err)
	}

	acquired, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	log.Debug("generation marker attempt",
		slog.String("persona_id", id.String()),
		slog.Bool("acquired", acquired))
	return acquired, nil
}

// ClearGenerationInProgress implements store.PersonaStore.ClearGenerationInProgress
func (s *PostgresPersonaStore) ClearGenerationInProgress(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE personas
		SET generation_in_progress = FALSE, generation_started_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to clear generation marker",
			slog.String("error", err.Error()),
			slog.String("persona_id", id.String()))
		return MapError(err)
	}
	return nil
}

// CompleteGeneration implements store.PersonaStore.CompleteGeneration
func (s *PostgresPersonaStore) CompleteGeneration(
	ctx context.Context,
	id uuid.UUID,
	bio, evaluationStyle string,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := domain.ValidatePersonaDetails(bio, evaluationStyle); err != nil {
		return false, err
	}

	query := `
		UPDATE personas
		SET bio = $2,
			product_evaluation_style = $3,
			status = 'ACTIVE',
			generation_in_progress = FALSE,
			generation_started_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status <> 'ACTIVE'
	`
	result, err := s.db.ExecContext(ctx, query, id, bio, evaluationStyle)
	if err != nil {
		log.Error("failed to complete persona generation",
			slog.String("error", err.Error()),
			slog.String("persona_id", id.String()))
		return false, MapError(err)
	}

	changed, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	if changed {
		log.Info("persona activated", slog.String("persona_id", id.String()))
	}
	return changed, nil
}

// MarkFailed implements store.PersonaStore.MarkFailed
func (s *PostgresPersonaStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE personas
		SET status = 'FAILED', generation_in_progress = FALSE, generation_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'ACTIVE'
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to mark persona failed",
			slog.String("error", err.Error()),
			slog.String("persona_id", id.String()))
		return MapError(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*domain.Persona, error) {
	var (
		p              domain.Persona
		demographics   []byte
		psychographics []byte
		startedAt      sql.NullTime
		status         string
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&demographics,
		&psychographics,
		&p.Fingerprint,
		&p.GenerationInProgress,
		&startedAt,
		&status,
		&p.Bio,
		&p.EvaluationStyle,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(demographics, &p.Demographics); err != nil {
		return nil, fmt.Errorf("failed to decode demographics: %w", err)
	}
	if err := json.Unmarshal(psychographics, &p.Psychographics); err != nil {
		return nil, fmt.Errorf("failed to decode psychographics: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		p.GenerationStartedAt = &t
	}
	p.Status = domain.PersonaStatus(status)
	return &p, nil
}
