package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/store"
)

// PersonaBatchHandler expands an audience into personas and schedules
// their generation. Persona IDs derive from the batch ID, so a redelivered
// batch finds its personas instead of creating new ones.
type PersonaBatchHandler struct {
	uow       store.UnitOfWork
	personas  store.PersonaStore
	generator generation.BatchGenerator
	enqueuer  Enqueuer
	logger    *slog.Logger
}

var _ Handler = (*PersonaBatchHandler)(nil)

// NewPersonaBatchHandler creates the handler.
func NewPersonaBatchHandler(
	uow store.UnitOfWork,
	personas store.PersonaStore,
	generator generation.BatchGenerator,
	enqueuer Enqueuer,
	logger *slog.Logger,
) (*PersonaBatchHandler, error) {
	if uow == nil || personas == nil || generator == nil || enqueuer == nil {
		return nil, ErrNilDependency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PersonaBatchHandler{
		uow:       uow,
		personas:  personas,
		generator: generator,
		enqueuer:  enqueuer,
		logger:    logger.With(slog.String("component", "persona_batch_handler")),
	}, nil
}

// Handle implements Handler.
func (h *PersonaBatchHandler) Handle(ctx context.Context, t *Task) error {
	var msg PersonaBatchMessage
	if err := t.Decode(&msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}
	log := logger.FromContextOrDefault(ctx, h.logger).With(slog.String("batch_id", msg.BatchID.String()))

	personas, complete, err := h.existing(ctx, msg)
	if err != nil {
		return err
	}

	if !complete {
		seeds, err := h.generator.GenerateBatch(ctx, msg.Audience, msg.Count)
		if err != nil {
			log.Warn("persona batch generation failed", slog.String("error", redact.Error(err)))
			return permanentUnlessRetriable(err)
		}
		if len(seeds) != msg.Count {
			return Permanent(fmt.Errorf("%w: expected %d personas, got %d",
				generation.ErrInvalidResponse, msg.Count, len(seeds)))
		}

		personas, err = h.insert(ctx, msg, seeds)
		if err != nil {
			return err
		}
	}

	// Personas are committed before their tasks are published. Every
	// non-active persona is enqueued again on redelivery; duplicate persona
	// tasks are no-ops.
	enqueued := 0
	for _, p := range personas {
		if p.IsActive() {
			continue
		}
		if err := h.enqueuer.Enqueue(ctx, TaskTypePersonaGeneration, PersonaGenerationMessage{
			PersonaID:             p.ID,
			DemographicsPayload:   p.Demographics,
			PsychographicsPayload: p.Psychographics,
		}); err != nil {
			return fmt.Errorf("failed to enqueue persona generation: %w", err)
		}
		enqueued++
	}

	log.Info("persona batch expanded",
		slog.Int("count", len(personas)),
		slog.Int("enqueued", enqueued),
		slog.Bool("redelivery", complete))
	return nil
}

// existing loads the batch's personas that are already stored. complete
// reports whether all of them are.
func (h *PersonaBatchHandler) existing(ctx context.Context, msg PersonaBatchMessage) ([]*domain.Persona, bool, error) {
	var found []*domain.Persona
	for i := 0; i < msg.Count; i++ {
		p, err := h.personas.GetByID(ctx, BatchPersonaID(msg.BatchID, i))
		if store.IsNotFoundError(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load batch persona: %w", err)
		}
		found = append(found, p)
	}
	return found, true, nil
}

// insert stores the batch's personas in one transaction. Personas left by
// an earlier partial delivery keep their stored inputs.
func (h *PersonaBatchHandler) insert(
	ctx context.Context,
	msg PersonaBatchMessage,
	seeds []generation.PersonaSeed,
) ([]*domain.Persona, error) {
	var out []*domain.Persona
	err := h.uow.Do(ctx, func(ctx context.Context, s store.Stores) error {
		out = out[:0]
		for i, seed := range seeds {
			p, err := domain.NewPersonaWithID(BatchPersonaID(msg.BatchID, i), msg.OwnerID,
				seed.Demographics, seed.Psychographics)
			if err != nil {
				return Permanent(fmt.Errorf("batch persona %d: %w", i, err))
			}
			inserted, err := s.Personas.CreateIfAbsent(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to store batch persona %d: %w", i, err)
			}
			if !inserted {
				if p, err = s.Personas.GetByID(ctx, p.ID); err != nil {
					return fmt.Errorf("failed to load batch persona %d: %w", i, err)
				}
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
