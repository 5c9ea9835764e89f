package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/store"
)

// CompletionSweeper periodically re-checks PENDING sessions. It catches
// sessions whose last completion trigger failed or timed out, which would
// otherwise wait for an event that never comes.
type CompletionSweeper struct {
	sessions    store.SessionStore
	coordinator *CompletionCoordinator
	interval    time.Duration
	minAge      time.Duration
	batch       int
	now         func() time.Time
	logger      *slog.Logger
}

// NewCompletionSweeper creates a CompletionSweeper.
func NewCompletionSweeper(
	sessions store.SessionStore,
	coordinator *CompletionCoordinator,
	cfg config.CompletionConfig,
	logger *slog.Logger,
) *CompletionSweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionSweeper{
		sessions:    sessions,
		coordinator: coordinator,
		interval:    cfg.SweepInterval,
		minAge:      cfg.SweepMinAge,
		batch:       cfg.SweepBatch,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "completion_sweeper")),
	}
}

// Run sweeps every interval until ctx is done.
func (s *CompletionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("completion sweep failed", slog.String("error", redact.Error(err)))
			}
		}
	}
}

// SweepOnce checks up to one batch of PENDING sessions older than the
// minimum age and returns how many it completed.
func (s *CompletionSweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.sessions.ListPendingIDs(ctx, s.now().Add(-s.minAge), s.batch)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if s.coordinator.Check(ctx, id) {
			completed++
		}
	}
	if completed > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("completion sweep finished sessions",
			slog.Int("checked", len(ids)),
			slog.Int("completed", completed))
	}
	return completed, nil
}
