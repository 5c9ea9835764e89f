package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/cache"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/store"
)

// markerClearTimeout bounds the deferred marker release.
const markerClearTimeout = 10 * time.Second

// DetailsCache memoizes persona details by input fingerprint.
type DetailsCache interface {
	GetOrLoad(ctx context.Context, fingerprint string, load cache.LoadFunc) (*generation.PersonaDetails, bool, error)
}

// PersonaGenerationConfig tunes the persona generation handler.
type PersonaGenerationConfig struct {
	// MarkerLease is how long another worker's marker is honoured.
	MarkerLease time.Duration

	// DeadLetterMarksFailed flips the persona to FAILED when its task is
	// dead-lettered.
	DeadLetterMarksFailed bool
}

// PersonaGenerationHandler fills in a GENERATING persona's bio and
// evaluation style and activates it.
//
// The generation marker is written through personas outside any
// transaction, so personas must be bound to the connection pool.
type PersonaGenerationHandler struct {
	personas  store.PersonaStore
	generator generation.PersonaDetailGenerator
	cache     DetailsCache
	config    PersonaGenerationConfig
	logger    *slog.Logger
}

var (
	_ Handler           = (*PersonaGenerationHandler)(nil)
	_ DeadLetterHandler = (*PersonaGenerationHandler)(nil)
)

// NewPersonaGenerationHandler creates the handler. detailsCache may be nil.
func NewPersonaGenerationHandler(
	personas store.PersonaStore,
	generator generation.PersonaDetailGenerator,
	detailsCache DetailsCache,
	config PersonaGenerationConfig,
	logger *slog.Logger,
) (*PersonaGenerationHandler, error) {
	if personas == nil || generator == nil {
		return nil, ErrNilDependency
	}
	if config.MarkerLease <= 0 {
		return nil, errors.New("marker lease must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PersonaGenerationHandler{
		personas:  personas,
		generator: generator,
		cache:     detailsCache,
		config:    config,
		logger:    logger.With(slog.String("component", "persona_generation_handler")),
	}, nil
}

// Handle implements Handler.
func (h *PersonaGenerationHandler) Handle(ctx context.Context, t *Task) error {
	log := logger.FromContextOrDefault(ctx, h.logger)

	var msg PersonaGenerationMessage
	if err := t.Decode(&msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}
	log = log.With(slog.String("persona_id", msg.PersonaID.String()))

	persona, err := h.personas.GetByID(ctx, msg.PersonaID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return Permanent(err)
		}
		return fmt.Errorf("failed to load persona: %w", err)
	}
	if persona.IsActive() {
		log.Debug("persona already active, nothing to do")
		return nil
	}

	acquired, err := h.personas.TryMarkGenerationInProgress(ctx, persona.ID, h.config.MarkerLease)
	if err != nil {
		return fmt.Errorf("failed to set generation marker: %w", err)
	}
	if !acquired {
		log.Info("persona generation held by another worker, skipping")
		return nil
	}
	defer h.clearMarker(ctx, persona, log)

	req := h.request(msg, persona)
	details, hit, err := h.details(ctx, req)
	if err != nil {
		log.Warn("persona detail generation failed",
			slog.Bool("retriable", generation.IsRetriable(err)),
			slog.String("error", redact.Error(err)))
		return permanentUnlessRetriable(err)
	}

	changed, err := h.personas.CompleteGeneration(ctx, persona.ID, details.Bio, details.EvaluationStyle)
	if err != nil {
		return permanentUnlessRetriable(fmt.Errorf("failed to store persona details: %w", err))
	}

	log.Info("persona generation finished",
		slog.Bool("cache_hit", hit),
		slog.Bool("activated", changed))
	return nil
}

// request prefers the inputs carried by the message and falls back to the
// stored persona for messages that omit them.
func (h *PersonaGenerationHandler) request(msg PersonaGenerationMessage, p *domain.Persona) generation.PersonaDetailRequest {
	req := generation.PersonaDetailRequest{
		Demographics:   msg.DemographicsPayload,
		Psychographics: msg.PsychographicsPayload,
	}
	if req.Demographics.Age == 0 {
		req.Demographics = p.Demographics
		req.Psychographics = p.Psychographics
	}
	return req
}

func (h *PersonaGenerationHandler) details(
	ctx context.Context,
	req generation.PersonaDetailRequest,
) (*generation.PersonaDetails, bool, error) {
	load := func(ctx context.Context) (*generation.PersonaDetails, error) {
		return h.generator.GeneratePersonaDetails(ctx, req)
	}
	if h.cache == nil {
		d, err := load(ctx)
		return d, false, err
	}

	fingerprint, err := domain.Fingerprint(req.Demographics, req.Psychographics)
	if err != nil {
		return nil, false, Permanent(err)
	}
	return h.cache.GetOrLoad(ctx, fingerprint, load)
}

// clearMarker runs even when ctx is already cancelled, so shutdown does
// not leave the marker set until the lease runs out.
func (h *PersonaGenerationHandler) clearMarker(ctx context.Context, p *domain.Persona, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markerClearTimeout)
	defer cancel()
	if err := h.personas.ClearGenerationInProgress(cctx, p.ID); err != nil {
		log.Error("failed to clear generation marker", slog.String("error", redact.Error(err)))
	}
}

// HandleDeadLetter implements DeadLetterHandler.
func (h *PersonaGenerationHandler) HandleDeadLetter(ctx context.Context, t *Task, cause error) error {
	if !h.config.DeadLetterMarksFailed {
		return nil
	}
	var msg PersonaGenerationMessage
	if err := t.Decode(&msg); err != nil {
		return err
	}
	if err := h.personas.MarkFailed(ctx, msg.PersonaID); err != nil {
		return fmt.Errorf("failed to mark persona failed: %w", err)
	}
	logger.FromContextOrDefault(ctx, h.logger).Warn("persona marked failed after dead-lettering",
		slog.String("persona_id", msg.PersonaID.String()),
		slog.String("cause", redact.Error(cause)))
	return nil
}

// permanentUnlessRetriable marks gateway and validation failures that
// another attempt cannot fix as permanent.
func permanentUnlessRetriable(err error) error {
	if err == nil {
		return nil
	}
	if !generation.IsRetriable(err) || isValidationError(err) {
		return Permanent(err)
	}
	return err
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrMissingBio,
		domain.ErrMissingEvalStyle,
		domain.ErrEmptyFeedback,
		domain.ErrInvalidIntent,
		domain.ErrInvalidConcernsCount,
		domain.ErrInvalidPersonaAge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
