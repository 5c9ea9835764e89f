package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// TaskStore implements task.TaskStore in memory with the same claim and
// visibility rules as the PostgreSQL store.
type TaskStore struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]*task.Task
	logger *slog.Logger
	now    func() time.Time
}

var _ task.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty TaskStore.
func NewTaskStore(logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		tasks:  make(map[uuid.UUID]*task.Task),
		logger: logger.With(slog.String("component", "memory_task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func cloneTask(t *task.Task) *task.Task {
	c := *t
	c.Payload = append([]byte(nil), t.Payload...)
	if t.LockedUntil != nil {
		lu := *t.LockedUntil
		c.LockedUntil = &lu
	}
	return &c
}

// Enqueue implements task.TaskStore.
func (s *TaskStore) Enqueue(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return store.ErrDuplicate
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

// enqueueAll adds tasks atomically: either all of them or none.
func (s *TaskStore) enqueueAll(tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if _, ok := s.tasks[t.ID]; ok {
			return store.ErrDuplicate
		}
	}
	for _, t := range tasks {
		s.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

// Claim implements task.TaskStore.
func (s *TaskStore) Claim(ctx context.Context, queues []string, limit int, visibility time.Duration) ([]*task.Task, error) {
	if len(queues) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var runnable []*task.Task
	for _, t := range s.tasks {
		if !slices.Contains(queues, t.Queue) {
			continue
		}
		pending := t.Status == task.TaskStatusPending && !t.AvailableAt.After(now)
		expired := t.Status == task.TaskStatusProcessing && t.LockedUntil != nil && t.LockedUntil.Before(now)
		if pending || expired {
			runnable = append(runnable, t)
		}
	}
	sort.Slice(runnable, func(i, j int) bool {
		return runnable[i].AvailableAt.Before(runnable[j].AvailableAt)
	})
	if len(runnable) > limit {
		runnable = runnable[:limit]
	}

	lockedUntil := now.Add(visibility)
	claimed := make([]*task.Task, 0, len(runnable))
	for _, t := range runnable {
		t.Status = task.TaskStatusProcessing
		t.Attempts++
		lu := lockedUntil
		t.LockedUntil = &lu
		t.UpdatedAt = now
		claimed = append(claimed, cloneTask(t))
	}
	if len(claimed) > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Debug("claimed tasks", slog.Int("count", len(claimed)))
	}
	return claimed, nil
}

func (s *TaskStore) update(id uuid.UUID, fn func(t *task.Task, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task not found", store.ErrNotFound)
	}
	now := s.now()
	fn(t, now)
	t.UpdatedAt = now
	return nil
}

// Ack implements task.TaskStore.
func (s *TaskStore) Ack(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(t *task.Task, _ time.Time) {
		t.Status = task.TaskStatusCompleted
		t.LockedUntil = nil
	})
}

// Retry implements task.TaskStore.
func (s *TaskStore) Retry(_ context.Context, id uuid.UUID, errMsg string, availableAt time.Time) error {
	return s.update(id, func(t *task.Task, _ time.Time) {
		t.Status = task.TaskStatusPending
		t.LastError = errMsg
		t.AvailableAt = availableAt
		t.LockedUntil = nil
	})
}

// Defer implements task.TaskStore.
func (s *TaskStore) Defer(_ context.Context, id uuid.UUID, reason string, availableAt time.Time) error {
	return s.update(id, func(t *task.Task, _ time.Time) {
		t.Status = task.TaskStatusPending
		t.LastError = reason
		t.AvailableAt = availableAt
		t.LockedUntil = nil
		if t.Attempts > 0 {
			t.Attempts--
		}
	})
}

// DeadLetter implements task.TaskStore.
func (s *TaskStore) DeadLetter(_ context.Context, id uuid.UUID, errMsg string) error {
	return s.update(id, func(t *task.Task, _ time.Time) {
		t.Status = task.TaskStatusDeadLettered
		t.Queue = task.DeadLetterQueue(t.Type)
		t.LastError = errMsg
		t.LockedUntil = nil
	})
}

// ListDeadLettered implements task.TaskStore.
func (s *TaskStore) ListDeadLettered(_ context.Context, taskType string, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.TaskStatusDeadLettered && (taskType == "" || t.Type == taskType) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Requeue implements task.TaskStore.
func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != task.TaskStatusDeadLettered {
		return fmt.Errorf("%w: dead-lettered task not found", store.ErrNotFound)
	}
	now := s.now()
	t.Status = task.TaskStatusPending
	t.Queue = t.Type
	t.Attempts = 0
	t.AvailableAt = now
	t.LockedUntil = nil
	t.UpdatedAt = now

	logger.FromContextOrDefault(ctx, s.logger).Info("task requeued", slog.String("task_id", id.String()))
	return nil
}

// Get returns a copy of the task with id, for inspection.
func (s *TaskStore) Get(id uuid.UUID) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(t), true
}

// List returns copies of every task of taskType.
func (s *TaskStore) List(taskType string) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if t.Type == taskType {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
