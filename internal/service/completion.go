package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/events"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/store"
)

const (
	completionLockPrefix = "session-completion:"
	lockReleaseTimeout   = 5 * time.Second
)

// CompletionLockKey is the lock guarding the completion check of a session.
func CompletionLockKey(sessionID uuid.UUID) string {
	return completionLockPrefix + sessionID.String()
}

// CompletionCoordinator decides when a feedback session is done. Under the
// session's completion lock it counts terminal results, aggregates the
// insights and flips the session to COMPLETED with a conditional write, so
// a session completes once however many coordinators run.
type CompletionCoordinator struct {
	sessions    store.SessionStore
	results     store.ResultStore
	locker      lock.Locker
	grouper     generation.ThemeGrouper
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ events.EventHandler = (*CompletionCoordinator)(nil)

// NewCompletionCoordinator creates a CompletionCoordinator.
func NewCompletionCoordinator(
	sessions store.SessionStore,
	results store.ResultStore,
	locker lock.Locker,
	grouper generation.ThemeGrouper,
	cfg config.CompletionConfig,
	logger *slog.Logger,
) (*CompletionCoordinator, error) {
	if sessions == nil || results == nil || locker == nil || grouper == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "completion dependencies cannot be nil"}
	}
	if cfg.LockTimeout <= 0 {
		return nil, &ServiceError{Operation: "create_service", Message: "lock timeout must be positive"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionCoordinator{
		sessions:    sessions,
		results:     results,
		locker:      locker,
		grouper:     grouper,
		lockTimeout: cfg.LockTimeout,
		logger:      logger.With(slog.String("component", "completion_coordinator")),
	}, nil
}

// HandleEvent implements events.EventHandler. It never returns an error:
// a failed check leaves the session PENDING for the next trigger.
func (c *CompletionCoordinator) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeResultTerminal {
		return nil
	}
	var payload events.ResultTerminal
	if err := event.UnmarshalPayload(&payload); err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Error("malformed result terminal event",
			slog.String("event_id", event.ID.String()),
			slog.String("error", err.Error()))
		return nil
	}
	c.Check(ctx, payload.SessionID)
	return nil
}

// Check runs TryComplete and logs instead of returning failures. It
// reports whether this call completed the session.
func (c *CompletionCoordinator) Check(ctx context.Context, sessionID uuid.UUID) bool {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("session_id", sessionID.String()))

	completed, err := c.TryComplete(ctx, sessionID)
	switch {
	case errors.Is(err, lock.ErrTimeout):
		completionChecks.WithLabelValues("lock_timeout").Inc()
		log.Debug("completion lock busy, leaving check to its holder")
	case err != nil:
		completionChecks.WithLabelValues("error").Inc()
		log.Error("session completion check failed", slog.String("error", redact.Error(err)))
	}
	return completed
}

// TryComplete completes the session if every result is terminal. It
// reports false without error when the session is not done yet or was
// already completed.
func (c *CompletionCoordinator) TryComplete(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("session_id", sessionID.String()))

	guard, err := c.locker.TryAcquire(ctx, CompletionLockKey(sessionID), c.lockTimeout)
	if err != nil {
		return false, fmt.Errorf("failed to acquire completion lock: %w", err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := guard.Release(rctx); err != nil {
			log.Error("failed to release completion lock", slog.String("error", redact.Error(err)))
		}
	}()

	session, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if session.IsCompleted() {
		completionChecks.WithLabelValues("already_completed").Inc()
		return false, nil
	}

	counts, err := c.results.CountTerminal(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to count terminal results: %w", err)
	}
	if counts.Total() < session.TotalResults {
		completionChecks.WithLabelValues("not_done").Inc()
		log.Debug("session not done yet",
			slog.Int("terminal", counts.Total()),
			slog.Int("total", session.TotalResults))
		return false, nil
	}

	insights, err := c.aggregate(ctx, sessionID, counts)
	if err != nil {
		return false, err
	}
	data, err := insights.Marshal()
	if err != nil {
		return false, fmt.Errorf("failed to encode insights: %w", err)
	}

	changed, err := c.sessions.CompleteIfPending(ctx, sessionID, data)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	if !changed {
		completionChecks.WithLabelValues("already_completed").Inc()
		return false, nil
	}

	completionChecks.WithLabelValues("completed").Inc()
	sessionsCompleted.Inc()
	log.Info("feedback session completed",
		slog.Int("completed", counts.Completed),
		slog.Int("failed", counts.Failed),
		slog.Float64("average_score", insights.AverageScore),
		slog.Int("themes", len(insights.Themes)))
	return true, nil
}

func (c *CompletionCoordinator) aggregate(
	ctx context.Context,
	sessionID uuid.UUID,
	counts store.TerminalCounts,
) (domain.AggregatedInsights, error) {
	completed, err := c.results.ListCompleted(ctx, sessionID)
	if err != nil {
		return domain.AggregatedInsights{}, fmt.Errorf("failed to load completed results: %w", err)
	}

	intents := make([]int, 0, len(completed))
	var concerns []string
	for _, r := range completed {
		intents = append(intents, r.PurchaseIntent)
		concerns = append(concerns, r.Concerns...)
	}

	insights := domain.Aggregate(intents)
	insights.FailedCount = counts.Failed
	if len(concerns) > 0 {
		themes, err := c.grouper.GroupConcerns(ctx, concerns)
		if err != nil {
			return domain.AggregatedInsights{}, fmt.Errorf("failed to group concerns: %w", err)
		}
		insights.Themes = themes
	}
	return insights, nil
}
