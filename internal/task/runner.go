package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// maxStoredErrorLen bounds error text written to the task row.
const maxStoredErrorLen = 1000

// bookkeepingTimeout bounds the store writes that follow a handler run.
const bookkeepingTimeout = 10 * time.Second

const tracerName = "github.com/phrazzld/personasim/internal/task"

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// ClaimBatch caps how many tasks one poll claims
	ClaimBatch int

	// PollInterval is how often idle workers look for new tasks
	PollInterval time.Duration

	// VisibilityTimeout is how long a claimed task stays locked. It also
	// bounds a single handler run.
	VisibilityTimeout time.Duration

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff
	// between attempts of a failed task.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:       4,
		ClaimBatch:        8,
		PollInterval:      time.Second,
		VisibilityTimeout: 5 * time.Minute,
		RetryBaseDelay:    2 * time.Second,
		RetryMaxDelay:     2 * time.Minute,
	}
}

// RunnerConfigFrom maps the task section of the application config.
func RunnerConfigFrom(c config.TaskConfig) TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:       c.WorkerCount,
		ClaimBatch:        c.ClaimBatch,
		PollInterval:      c.PollInterval,
		VisibilityTimeout: c.VisibilityTimeout,
		RetryBaseDelay:    c.RetryBaseDelay,
		RetryMaxDelay:     c.RetryMaxDelay,
	}
}

// TaskRunner manages background task processing. A dispatcher claims tasks
// for idle workers; each delivery is acknowledged, retried with backoff or
// dead-lettered depending on the handler's result.
type TaskRunner struct {
	store    TaskStore
	config   TaskRunnerConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	handlers map[string]Handler

	work chan *Task
	wake chan struct{}
	busy atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error

	now func() time.Time
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(store TaskStore, config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	defaults := DefaultTaskRunnerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.ClaimBatch <= 0 {
		config.ClaimBatch = defaults.ClaimBatch
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay < config.RetryBaseDelay {
		config.RetryMaxDelay = config.RetryBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskRunner{
		store:    store,
		config:   config,
		logger:   logger.With(slog.String("component", "task_runner")),
		tracer:   otel.Tracer(tracerName),
		handlers: make(map[string]Handler),
		work:     make(chan *Task),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Register installs h for taskType. Registering twice replaces the handler.
// Must be called before Start.
func (r *TaskRunner) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Notify asks the dispatcher to poll now rather than at its next tick.
func (r *TaskRunner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the runner in the background until Stop is called or ctx is
// cancelled.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("task runner already started")
	}
	if len(r.handlers) == 0 {
		return errors.New("task runner has no handlers registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan error, 1)
	go func() { r.done <- r.Run(ctx) }()

	r.logger.Info("task runner started",
		slog.Int("workers", r.config.WorkerCount),
		slog.Any("queues", r.queues()))
	return nil
}

// Stop gracefully shuts down the task runner, waiting for in-flight tasks.
func (r *TaskRunner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := <-done
	r.logger.Info("task runner stopped")
	return err
}

// Run processes tasks until ctx is cancelled.
func (r *TaskRunner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	pool := NewWorkerPool(r.work, WorkerPoolConfig{WorkerCount: r.config.WorkerCount}, r.process, r.logger)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return r.dispatch(ctx) })
	return g.Wait()
}

func (r *TaskRunner) queues() []string {
	queues := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		queues = append(queues, t)
	}
	sort.Strings(queues)
	return queues
}

// dispatch claims tasks for idle workers.
func (r *TaskRunner) dispatch(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	queues := r.queues()
	for {
		free := min(r.config.WorkerCount-int(r.busy.Load()), r.config.ClaimBatch)
		saturated := false

		if free > 0 {
			tasks, err := r.store.Claim(ctx, queues, free, r.config.VisibilityTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("failed to claim tasks", slog.String("error", redact.Error(err)))
			}
			for _, t := range tasks {
				r.busy.Add(1)
				tasksInFlight.Inc()
				select {
				case r.work <- t:
				case <-ctx.Done():
					// Claimed but never started; the lock expires and the
					// task is claimed again.
					r.busy.Add(-1)
					tasksInFlight.Dec()
					return nil
				}
			}
			saturated = len(tasks) == free
		}

		if saturated {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// process runs one delivery and records its outcome.
func (r *TaskRunner) process(ctx context.Context, t *Task) {
	defer func() {
		r.busy.Add(-1)
		tasksInFlight.Dec()
		r.Notify()
	}()

	ctx, span := r.tracer.Start(ctx, "task "+t.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.id", t.ID.String()),
			attribute.String("task.type", t.Type),
			attribute.Int("task.attempt", t.Attempts),
		))
	defer span.End()

	log := r.logger.With(
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.Int("attempt", t.Attempts),
		slog.Int("max_attempts", t.MaxAttempts),
	)
	ctx = logger.WithLogger(ctx, log)

	start := r.now()
	err := r.handle(ctx, t)
	taskDuration.WithLabelValues(t.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, redact.Error(err))
	}

	// Outcome writes must survive shutdown of the runner context.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	switch {
	case err == nil:
		if ackErr := r.store.Ack(bctx, t.ID); ackErr != nil {
			log.Error("failed to acknowledge task", slog.String("error", redact.Error(ackErr)))
		}
		tasksProcessed.WithLabelValues(t.Type, "completed").Inc()
		log.Info("task completed", slog.Duration("duration", time.Since(start)))

	case ctx.Err() != nil && !IsPermanent(err):
		if retryErr := r.store.Retry(bctx, t.ID, "interrupted by shutdown", r.now()); retryErr != nil {
			log.Error("failed to release interrupted task", slog.String("error", redact.Error(retryErr)))
		}
		tasksProcessed.WithLabelValues(t.Type, "interrupted").Inc()
		log.Warn("task interrupted by shutdown")

	case IsDeferred(err):
		delay, _ := deferral(err)
		msg := redact.Truncated(err, maxStoredErrorLen)
		if deferErr := r.store.Defer(bctx, t.ID, msg, r.now().Add(delay)); deferErr != nil {
			log.Error("failed to defer task", slog.String("error", redact.Error(deferErr)))
		}
		tasksProcessed.WithLabelValues(t.Type, "deferred").Inc()
		log.Info("task deferred",
			slog.Duration("delay", delay),
			slog.String("reason", redact.Error(err)))

	case IsPermanent(err) || t.Attempts >= t.MaxAttempts:
		r.deadLetter(bctx, t, err)

	default:
		delay := r.retryDelay(t.Attempts)
		msg := redact.Truncated(err, maxStoredErrorLen)
		if retryErr := r.store.Retry(bctx, t.ID, msg, r.now().Add(delay)); retryErr != nil {
			log.Error("failed to schedule task retry", slog.String("error", redact.Error(retryErr)))
		}
		tasksProcessed.WithLabelValues(t.Type, "retried").Inc()
		log.Warn("task failed, will retry",
			slog.Duration("delay", delay),
			slog.String("error", redact.Error(err)))
	}
}

// handle runs the registered handler, bounded by the visibility timeout.
func (r *TaskRunner) handle(ctx context.Context, t *Task) (err error) {
	h, ok := r.handlers[t.Type]
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, t.Type))
	}

	hctx, cancel := context.WithTimeout(ctx, r.config.VisibilityTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(hctx, t)
}

func (r *TaskRunner) deadLetter(ctx context.Context, t *Task, cause error) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	if err := r.store.DeadLetter(ctx, t.ID, redact.Truncated(cause, maxStoredErrorLen)); err != nil {
		// The claim lock expires and the task is delivered again.
		log.Error("failed to dead-letter task", slog.String("error", redact.Error(err)))
		return
	}
	tasksProcessed.WithLabelValues(t.Type, "dead_lettered").Inc()
	log.Error("task dead-lettered",
		slog.String("queue", DeadLetterQueue(t.Type)),
		slog.Bool("permanent", IsPermanent(cause)),
		slog.String("error", redact.Error(cause)))

	if h, ok := r.handlers[t.Type].(DeadLetterHandler); ok {
		if err := h.HandleDeadLetter(ctx, t, cause); err != nil {
			log.Error("dead-letter hook failed", slog.String("error", redact.Error(err)))
		}
	}
}

// retryDelay returns the wait before the next attempt after attempt
// failures: base, 2*base, 4*base, ... capped at RetryMaxDelay.
func (r *TaskRunner) retryDelay(attempt int) time.Duration {
	d := r.config.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.config.RetryMaxDelay {
			return r.config.RetryMaxDelay
		}
	}
	return min(d, r.config.RetryMaxDelay)
}
