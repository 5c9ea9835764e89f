package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusProcessing   TaskStatus = "processing"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusDeadLettered TaskStatus = "dead_lettered"
)

// Task type constants. Each type is also the name of its queue.
const (
	TaskTypePersonaGeneration  = "persona_generation"
	TaskTypeFeedbackGeneration = "feedback_generation"
	TaskTypePersonaBatch       = "persona_batch"
)

// DefaultMaxAttempts is used when a task is created without a limit.
const DefaultMaxAttempts = 5

// DeadLetterQueue returns the dead-letter queue name for taskType.
func DeadLetterQueue(taskType string) string {
	return taskType + ".dlq"
}

// Task is one persisted unit of background work.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewTask builds a pending task of taskType carrying payload as JSON.
func NewTask(taskType string, payload any, maxAttempts int) (*Task, error) {
	if taskType == "" {
		return nil, fmt.Errorf("%w: empty task type", ErrInvalidMessage)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", taskType, err)
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	return &Task{
		ID:          uuid.New(),
		Type:        taskType,
		Queue:       taskType,
		Payload:     data,
		Status:      TaskStatusPending,
		MaxAttempts: maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Decode unmarshals the payload into v. Malformed payloads are permanent
// failures; retrying cannot fix them.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(fmt.Errorf("%w: %s payload: %v", ErrInvalidMessage, t.Type, err))
	}
	return nil
}

// TaskStore defines the interface for persisting and claiming tasks.
// Version: 2.0
type TaskStore interface {
	// Enqueue persists a pending task.
	Enqueue(ctx context.Context, t *Task) error

	// Claim locks up to limit runnable tasks from queues for visibility and
	// increments their attempt counters. A task is runnable when it is
	// pending and available, or processing with an expired lock.
	Claim(ctx context.Context, queues []string, limit int, visibility time.Duration) ([]*Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, id uuid.UUID) error

	// Retry releases a claimed task for another attempt at availableAt.
	Retry(ctx context.Context, id uuid.UUID, errMsg string, availableAt time.Time) error

	// Defer releases a claimed task until availableAt and gives back the
	// attempt its claim consumed.
	Defer(ctx context.Context, id uuid.UUID, reason string, availableAt time.Time) error

	// DeadLetter moves a task to its dead-letter queue.
	DeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error

	// ListDeadLettered returns dead-lettered tasks, optionally filtered by
	// type, newest first.
	ListDeadLettered(ctx context.Context, taskType string, limit int) ([]*Task, error)

	// Requeue moves a dead-lettered task back to its queue with a fresh
	// attempt budget. Returns store.ErrNotFound if no such task is
	// dead-lettered.
	Requeue(ctx context.Context, id uuid.UUID) error
}

// Handler processes one task type.
type Handler interface {
	Handle(ctx context.Context, t *Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, t *Task) error

// Handle calls f(ctx, t).
func (f HandlerFunc) Handle(ctx context.Context, t *Task) error { return f(ctx, t) }

// DeadLetterHandler is implemented by handlers that need to react when one
// of their tasks is dead-lettered.
type DeadLetterHandler interface {
	HandleDeadLetter(ctx context.Context, t *Task, cause error) error
}

// Enqueuer publishes tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// Publisher is an Enqueuer that also fronts tasks written through a unit
// of work's outbox.
type Publisher interface {
	Enqueuer

	// Ready returns ErrQueueClosed once no new work is accepted.
	Ready() error

	// Notify signals that outbox tasks were committed.
	Notify()
}
