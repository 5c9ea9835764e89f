package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/events"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/store"
)

// ErrPersonaNotReady is returned while a persona is still generating. The
// task is deferred without using up attempts until the persona becomes
// ACTIVE or the readiness wait runs out; after that it retries normally.
var ErrPersonaNotReady = errors.New("persona is not active yet")

// Readiness wait defaults.
const (
	DefaultNotReadyDelay   = 10 * time.Second
	DefaultNotReadyMaxWait = 30 * time.Minute
)

// ErrPersonaFailed is returned when feedback is requested from a persona
// whose generation failed.
var ErrPersonaFailed = errors.New("persona generation failed")

// FeedbackGenerationHandler produces one feedback result. Every terminal
// outcome is announced with an events.TypeResultTerminal event.
type FeedbackGenerationHandler struct {
	stores    store.Stores
	generator generation.FeedbackGenerator
	emitter   events.EventEmitter
	logger    *slog.Logger

	notReadyDelay   time.Duration
	notReadyMaxWait time.Duration
	now             func() time.Time
}

var (
	_ Handler           = (*FeedbackGenerationHandler)(nil)
	_ DeadLetterHandler = (*FeedbackGenerationHandler)(nil)
)

// NewFeedbackGenerationHandler creates the handler. stores must not be
// bound to a transaction.
func NewFeedbackGenerationHandler(
	stores store.Stores,
	generator generation.FeedbackGenerator,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (*FeedbackGenerationHandler, error) {
	if stores.Results == nil || stores.Personas == nil || stores.Products == nil ||
		generator == nil || emitter == nil {
		return nil, ErrNilDependency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackGenerationHandler{
		stores:          stores,
		generator:       generator,
		emitter:         emitter,
		logger:          logger.With(slog.String("component", "feedback_generation_handler")),
		notReadyDelay:   DefaultNotReadyDelay,
		notReadyMaxWait: DefaultNotReadyMaxWait,
		now:             time.Now,
	}, nil
}

// WithReadinessWait sets how often a task waiting on a GENERATING persona
// is redelivered and for how long, measured from the task's creation,
// those redeliveries are free. Non-positive values keep the defaults.
func (h *FeedbackGenerationHandler) WithReadinessWait(delay, maxWait time.Duration) *FeedbackGenerationHandler {
	if delay > 0 {
		h.notReadyDelay = delay
	}
	if maxWait > 0 {
		h.notReadyMaxWait = maxWait
	}
	return h
}

// Handle implements Handler.
func (h *FeedbackGenerationHandler) Handle(ctx context.Context, t *Task) error {
	var msg FeedbackGenerationMessage
	if err := t.Decode(&msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}

	log := logger.FromContextOrDefault(ctx, h.logger).With(
		slog.String("result_id", msg.ResultID.String()),
		slog.String("persona_id", msg.PersonaID.String()),
		slog.String("product_id", msg.ProductID.String()))
	ctx = logger.WithLogger(ctx, log)

	result, err := h.stores.Results.GetByID(ctx, msg.ResultID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return Permanent(err)
		}
		return fmt.Errorf("failed to load feedback result: %w", err)
	}

	switch result.Status {
	case domain.ResultStatusCompleted:
		log.Debug("feedback result already completed, nothing to do")
		return nil
	case domain.ResultStatusInProgress:
		// A redelivery after the previous holder's lock expired.
		log.Info("resuming in-progress feedback result")
	default:
		changed, err := h.stores.Results.MarkInProgress(ctx, result.ID)
		if err != nil {
			return fmt.Errorf("failed to claim feedback result: %w", err)
		}
		if !changed {
			current, err := h.stores.Results.GetByID(ctx, result.ID)
			if err != nil {
				return fmt.Errorf("failed to reload feedback result: %w", err)
			}
			if current.Status == domain.ResultStatusCompleted {
				return nil
			}
		}
	}

	feedback, err := h.generate(ctx, msg, t.CreatedAt)
	if err != nil {
		return h.fail(ctx, result.SessionID, result.ID, err)
	}

	changed, err := h.stores.Results.Complete(ctx, result.ID, *feedback)
	if err != nil {
		return h.fail(ctx, result.SessionID, result.ID, err)
	}
	if !changed {
		log.Debug("feedback result completed by another delivery")
		return nil
	}

	log.Info("feedback result completed", slog.Int("purchase_intent", feedback.PurchaseIntent))
	h.emit(ctx, result.SessionID, result.ID, domain.ResultStatusCompleted)
	return nil
}

func (h *FeedbackGenerationHandler) generate(
	ctx context.Context,
	msg FeedbackGenerationMessage,
	queuedAt time.Time,
) (*domain.Feedback, error) {
	persona, err := h.stores.Personas.GetByID(ctx, msg.PersonaID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, Permanent(err)
		}
		return nil, fmt.Errorf("failed to load persona: %w", err)
	}
	switch persona.Status {
	case domain.PersonaStatusActive:
	case domain.PersonaStatusFailed:
		return nil, Permanent(ErrPersonaFailed)
	default:
		if h.now().Sub(queuedAt) < h.notReadyMaxWait {
			return nil, Defer(ErrPersonaNotReady, h.notReadyDelay)
		}
		return nil, ErrPersonaNotReady
	}

	product, err := h.stores.Products.GetByID(ctx, msg.ProductID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, Permanent(err)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	return h.generator.GenerateFeedback(ctx, generation.FeedbackRequest{
		PersonaBio:      persona.Bio,
		EvaluationStyle: persona.EvaluationStyle,
		Demographics:    persona.Demographics,
		Product:         *product,
		LanguageCode:    msg.LanguageCode,
	})
}

// fail records cause on the result and announces the FAILED state.
// Retriable causes are returned so the task is delivered again; the next
// delivery moves the result back to IN_PROGRESS.
func (h *FeedbackGenerationHandler) fail(ctx context.Context, sessionID, resultID uuid.UUID, cause error) error {
	log := logger.FromContextOrDefault(ctx, h.logger)
	cause = permanentUnlessRetriable(cause)
	if errors.Is(cause, ErrPersonaNotReady) || (ctx.Err() != nil && !IsPermanent(cause)) {
		// Left IN_PROGRESS; the next delivery resumes it.
		return cause
	}

	changed, err := h.stores.Results.MarkFailed(ctx, resultID, redact.Truncated(cause, maxStoredErrorLen))
	if err != nil {
		log.Error("failed to mark feedback result failed", slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to mark feedback result failed: %w", err)
	}
	if changed {
		h.emit(ctx, sessionID, resultID, domain.ResultStatusFailed)
	}

	log.Warn("feedback generation failed",
		slog.Bool("permanent", IsPermanent(cause)),
		slog.String("error", redact.Error(cause)))
	if IsPermanent(cause) {
		return nil
	}
	return cause
}

func (h *FeedbackGenerationHandler) emit(ctx context.Context, sessionID, resultID uuid.UUID, status domain.ResultStatus) {
	event, err := events.NewResultTerminalEvent(events.ResultTerminal{
		SessionID: sessionID,
		ResultID:  resultID,
		Status:    string(status),
	})
	if err == nil {
		err = h.emitter.EmitEvent(ctx, event)
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, h.logger).Error("failed to emit result terminal event",
			slog.String("session_id", sessionID.String()),
			slog.String("error", redact.Error(err)))
	}
}

// HandleDeadLetter implements DeadLetterHandler. A result whose task is
// dead-lettered is forced to FAILED so its session can still complete.
func (h *FeedbackGenerationHandler) HandleDeadLetter(ctx context.Context, t *Task, cause error) error {
	var msg FeedbackGenerationMessage
	if err := t.Decode(&msg); err != nil {
		return err
	}

	result, err := h.stores.Results.GetByID(ctx, msg.ResultID)
	if err != nil {
		return fmt.Errorf("failed to load feedback result: %w", err)
	}
	if result.Status == domain.ResultStatusCompleted {
		return nil
	}

	if _, err := h.stores.Results.MarkInProgress(ctx, result.ID); err != nil {
		return fmt.Errorf("failed to claim feedback result: %w", err)
	}
	changed, err := h.stores.Results.MarkFailed(ctx, result.ID, redact.Truncated(cause, maxStoredErrorLen))
	if err != nil {
		return fmt.Errorf("failed to mark feedback result failed: %w", err)
	}
	if changed {
		h.emit(ctx, result.SessionID, result.ID, domain.ResultStatusFailed)
	}
	return nil
}
