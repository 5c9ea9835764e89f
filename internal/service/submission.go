package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// SubmissionConfig bounds the work a single request may create.
type SubmissionConfig struct {
	DefaultLanguage       string
	MaxPersonasPerRequest int
	MaxBatchSize          int
	MaxSessionResults     int
}

// DefaultSubmissionConfig returns the limits used when none are configured.
func DefaultSubmissionConfig() SubmissionConfig {
	return SubmissionConfig{
		DefaultLanguage:       "en",
		MaxPersonasPerRequest: 50,
		MaxBatchSize:          50,
		MaxSessionResults:     500,
	}
}

// PersonaInput is the caller-supplied part of a persona.
type PersonaInput struct {
	Demographics   domain.Demographics
	Psychographics domain.Psychographics
}

// ProductInput is the caller-supplied part of a product.
type ProductInput struct {
	Name        string
	Description string
	Category    string
	PriceCents  int64
	Currency    string
	Attributes  map[string]string
}

// errNoOutbox means the unit of work cannot publish tasks atomically.
var errNoOutbox = errors.New("unit of work has no task outbox")

// SessionRequest names the products x personas matrix of a feedback session.
type SessionRequest struct {
	ProductIDs   []uuid.UUID
	PersonaIDs   []uuid.UUID
	LanguageCode string
}

// BatchReceipt identifies an accepted persona batch. PersonaIDs are the IDs
// the batch's personas will be stored under.
type BatchReceipt struct {
	BatchID    uuid.UUID
	PersonaIDs []uuid.UUID
}

// SessionView is a session together with its results.
type SessionView struct {
	Session *domain.FeedbackSession
	Results []*domain.FeedbackResult
}

// SubmissionService creates personas, products and feedback sessions and
// publishes the tasks that process them. Rows and their tasks are written
// in one unit of work, so workers never see a task without its row and no
// committed row lacks its task.
type SubmissionService struct {
	uow      store.UnitOfWork
	stores   store.Stores
	enqueuer task.Publisher
	config   SubmissionConfig
	logger   *slog.Logger
}

// NewSubmissionService creates a SubmissionService. stores is used for
// reads outside any transaction.
func NewSubmissionService(
	uow store.UnitOfWork,
	stores store.Stores,
	enqueuer task.Publisher,
	config SubmissionConfig,
	logger *slog.Logger,
) (*SubmissionService, error) {
	if uow == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "uow cannot be nil"}
	}
	if stores.Personas == nil || stores.Products == nil || stores.Sessions == nil || stores.Results == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "stores cannot be nil"}
	}
	if enqueuer == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "enqueuer cannot be nil"}
	}

	defaults := DefaultSubmissionConfig()
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = defaults.DefaultLanguage
	}
	if config.MaxPersonasPerRequest <= 0 {
		config.MaxPersonasPerRequest = defaults.MaxPersonasPerRequest
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.MaxSessionResults <= 0 {
		config.MaxSessionResults = defaults.MaxSessionResults
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SubmissionService{
		uow:      uow,
		stores:   stores,
		enqueuer: enqueuer,
		config:   config,
		logger:   logger.With(slog.String("component", "submission_service")),
	}, nil
}

// CreatePersonas stores one GENERATING persona per input together with its
// generation task.
func (s *SubmissionService) CreatePersonas(
	ctx context.Context,
	ownerID uuid.UUID,
	inputs []PersonaInput,
) ([]*domain.Persona, error) {
	const op = "create_personas"
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(inputs) == 0 || len(inputs) > s.config.MaxPersonasPerRequest {
		return nil, fmt.Errorf("%w: between 1 and %d personas per request",
			ErrInvalidInput, s.config.MaxPersonasPerRequest)
	}

	personas := make([]*domain.Persona, 0, len(inputs))
	for i, in := range inputs {
		p, err := domain.NewPersona(ownerID, in.Demographics, in.Psychographics)
		if err != nil {
			return nil, NewServiceError(op, fmt.Sprintf("persona %d is invalid", i), err)
		}
		personas = append(personas, p)
	}

	if err := s.enqueuer.Ready(); err != nil {
		return nil, NewServiceError(op, "task queue is not accepting work", err)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Stores) error {
		if tx.Outbox == nil {
			return errNoOutbox
		}
		for _, p := range personas {
			if err := tx.Personas.Create(ctx, p); err != nil {
				return err
			}
			if err := tx.Outbox.Publish(ctx, task.TaskTypePersonaGeneration, task.PersonaGenerationMessage{
				PersonaID:             p.ID,
				DemographicsPayload:   p.Demographics,
				PsychographicsPayload: p.Psychographics,
			}); err != nil {
				return fmt.Errorf("failed to publish persona generation task: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to store personas", slog.String("error", err.Error()))
		return nil, NewServiceError(op, "failed to store personas", err)
	}
	s.enqueuer.Notify()

	log.Info("personas submitted",
		slog.String("owner_id", ownerID.String()),
		slog.Int("count", len(personas)))
	return personas, nil
}

// CreatePersonaBatch enqueues a batch task that generates count personas
// matching audience.
func (s *SubmissionService) CreatePersonaBatch(
	ctx context.Context,
	ownerID uuid.UUID,
	audience generation.Audience,
	count int,
) (*BatchReceipt, error) {
	const op = "create_persona_batch"

	if count < 1 || count > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size must be between 1 and %d", ErrInvalidInput, s.config.MaxBatchSize)
	}
	if audience.AgeMin != 0 && audience.AgeMax != 0 && audience.AgeMax < audience.AgeMin {
		return nil, fmt.Errorf("%w: ageMax is below ageMin", ErrInvalidInput)
	}
	if ownerID == uuid.Nil {
		return nil, NewServiceError(op, "owner is required", domain.ErrEmptyPersonaOwnerID)
	}

	msg := task.PersonaBatchMessage{
		BatchID:  uuid.New(),
		OwnerID:  ownerID,
		Audience: audience,
		Count:    count,
	}
	if err := s.enqueuer.Enqueue(ctx, task.TaskTypePersonaBatch, msg); err != nil {
		return nil, NewServiceError(op, "failed to publish persona batch task", err)
	}

	receipt := &BatchReceipt{BatchID: msg.BatchID, PersonaIDs: make([]uuid.UUID, count)}
	for i := range receipt.PersonaIDs {
		receipt.PersonaIDs[i] = task.BatchPersonaID(msg.BatchID, i)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("persona batch submitted",
		slog.String("batch_id", msg.BatchID.String()),
		slog.Int("count", count))
	return receipt, nil
}

// CreateProduct stores a product personas can give feedback on.
func (s *SubmissionService) CreateProduct(ctx context.Context, ownerID uuid.UUID, in ProductInput) (*domain.Product, error) {
	const op = "create_product"

	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	p, err := domain.NewProduct(ownerID, in.Name, in.Description)
	if err != nil {
		return nil, NewServiceError(op, "product is invalid", err)
	}
	p.Category = in.Category
	p.PriceCents = in.PriceCents
	p.Currency = in.Currency
	p.Attributes = in.Attributes

	if err := s.stores.Products.Create(ctx, p); err != nil {
		return nil, NewServiceError(op, "failed to store product", err)
	}
	return p, nil
}

// GetPersona returns the owner's persona.
func (s *SubmissionService) GetPersona(ctx context.Context, ownerID, id uuid.UUID) (*domain.Persona, error) {
	p, err := s.stores.Personas.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_persona", "failed to load persona", err)
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	return p, nil
}

// GetProduct returns the owner's product.
func (s *SubmissionService) GetProduct(ctx context.Context, ownerID, id uuid.UUID) (*domain.Product, error) {
	p, err := s.stores.Products.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_product", "failed to load product", err)
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	return p, nil
}

// CreateFeedbackSession stores a PENDING session with one PENDING result per
// product/persona pair and one feedback task per result, all in one unit of
// work. Personas may still be generating; FAILED personas are rejected.
// Unknown languages fall back to the default language.
func (s *SubmissionService) CreateFeedbackSession(
	ctx context.Context,
	ownerID uuid.UUID,
	req SessionRequest,
) (*domain.FeedbackSession, error) {
	const op = "create_session"
	log := logger.FromContextOrDefault(ctx, s.logger)

	productIDs := dedupe(req.ProductIDs)
	personaIDs := dedupe(req.PersonaIDs)
	if n := len(productIDs) * len(personaIDs); n > s.config.MaxSessionResults {
		return nil, fmt.Errorf("%w: session would create %d results, limit is %d",
			ErrInvalidInput, n, s.config.MaxSessionResults)
	}

	lang, known := generation.ResolveLanguage(req.LanguageCode, s.config.DefaultLanguage)
	if !known && req.LanguageCode != "" {
		log.Warn("unsupported language requested, using default",
			slog.String("requested", req.LanguageCode),
			slog.String("language", lang.Code))
	}

	session, results, err := domain.NewFeedbackSession(ownerID, lang.Code, productIDs, personaIDs)
	if err != nil {
		return nil, NewServiceError(op, "session is invalid", err)
	}

	if err := s.enqueuer.Ready(); err != nil {
		return nil, NewServiceError(op, "task queue is not accepting work", err)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx store.Stores) error {
		if tx.Outbox == nil {
			return errNoOutbox
		}
		for _, id := range productIDs {
			p, err := tx.Products.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if p.OwnerID != ownerID {
				return ErrNotOwned
			}
		}
		for _, id := range personaIDs {
			p, err := tx.Personas.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if p.OwnerID != ownerID {
				return ErrNotOwned
			}
			if p.Status == domain.PersonaStatusFailed {
				return fmt.Errorf("%w: persona %s failed to generate", ErrInvalidInput, id)
			}
		}
		if err := tx.Sessions.Create(ctx, session); err != nil {
			return err
		}
		if err := tx.Results.CreateBatch(ctx, results); err != nil {
			return err
		}
		for _, r := range results {
			if err := tx.Outbox.Publish(ctx, task.TaskTypeFeedbackGeneration, task.FeedbackGenerationMessage{
				ResultID:     r.ID,
				ProductID:    r.ProductID,
				PersonaID:    r.PersonaID,
				LanguageCode: session.LanguageCode,
			}); err != nil {
				return fmt.Errorf("failed to publish feedback generation task: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn("failed to store feedback session", slog.String("error", err.Error()))
		return nil, NewServiceError(op, "failed to store feedback session", err)
	}
	s.enqueuer.Notify()

	log.Info("feedback session submitted",
		slog.String("session_id", session.ID.String()),
		slog.Int("results", session.TotalResults),
		slog.String("language", session.LanguageCode))
	return session, nil
}

// GetSession returns the owner's session and its results.
func (s *SubmissionService) GetSession(ctx context.Context, ownerID, id uuid.UUID) (*SessionView, error) {
	const op = "get_session"

	session, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError(op, "failed to load session", err)
	}
	if session.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	results, err := s.stores.Results.ListBySession(ctx, id)
	if err != nil {
		return nil, NewServiceError(op, "failed to load results", err)
	}
	return &SessionView{Session: session, Results: results}, nil
}

// dedupe drops repeated IDs, keeping first occurrences in order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
