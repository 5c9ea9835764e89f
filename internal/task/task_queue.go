package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phrazzld/personasim/internal/platform/logger"
)

// TaskQueue publishes tasks into a TaskStore. It satisfies Enqueuer.
type TaskQueue struct {
	store       TaskStore
	maxAttempts int
	logger      *slog.Logger
	closed      atomic.Bool

	// notify, when set, is called after every successful enqueue so a local
	// runner can claim the task without waiting for its next poll.
	notify func()
}

var _ Publisher = (*TaskQueue)(nil)

// NewTaskQueue creates a queue that stores tasks with maxAttempts attempts.
func NewTaskQueue(store TaskStore, maxAttempts int, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "task_queue")),
	}
}

// OnEnqueue registers fn to be called after each enqueue.
func (q *TaskQueue) OnEnqueue(fn func()) {
	q.notify = fn
}

// Enqueue persists a new task of taskType. Returns ErrQueueClosed after Close.
func (q *TaskQueue) Enqueue(ctx context.Context, taskType string, payload any) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	t, err := NewTask(taskType, payload, q.maxAttempts)
	if err != nil {
		return err
	}
	if err := q.store.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}

	logger.FromContextOrDefault(ctx, q.logger).Debug("task enqueued",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", taskType))
	if q.notify != nil {
		q.notify()
	}
	return nil
}

// Ready returns ErrQueueClosed after Close.
func (q *TaskQueue) Ready() error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	return nil
}

// Notify reports tasks committed through a unit of work's outbox.
func (q *TaskQueue) Notify() {
	if q.notify != nil {
		q.notify()
	}
}

// Close stops the queue from accepting new tasks.
func (q *TaskQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.logger.Info("task queue closed")
	}
}
