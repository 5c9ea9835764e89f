package task

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a fixed number of workers that process tasks received on
// a channel.
type WorkerPool struct {
	work        <-chan *Task
	workerCount int
	process     func(ctx context.Context, t *Task)
	logger      *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	work <-chan *Task,
	config WorkerPoolConfig,
	process func(ctx context.Context, t *Task),
	logger *slog.Logger,
) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", 1))
	}

	return &WorkerPool{
		work:        work,
		workerCount: workerCount,
		process:     process,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled or the work channel is closed and every
// worker has finished its current task.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		id := i
		g.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	p.logger.Debug("starting worker", slog.Int("worker_id", id))
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return
		case t, ok := <-p.work:
			if !ok {
				p.logger.Debug("task channel closed, stopping worker", slog.Int("worker_id", id))
				return
			}
			p.process(ctx, t)
		}
	}
}
