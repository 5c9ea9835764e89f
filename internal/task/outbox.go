package task

import (
	"context"
	"fmt"

	"github.com/phrazzld/personasim/internal/store"
)

// Outbox writes tasks through a TaskStore bound to the caller's unit of
// work, so rows and the tasks that process them commit together.
type Outbox struct {
	store       TaskStore
	maxAttempts int
}

var _ store.Outbox = (*Outbox)(nil)

// NewOutbox creates an Outbox writing to ts. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewOutbox(ts TaskStore, maxAttempts int) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{store: ts, maxAttempts: maxAttempts}
}

// Publish implements store.Outbox.
func (o *Outbox) Publish(ctx context.Context, taskType string, payload any) error {
	t, err := NewTask(taskType, payload, o.maxAttempts)
	if err != nil {
		return err
	}
	if err := o.store.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("failed to stage %s task: %w", taskType, err)
	}
	return nil
}
