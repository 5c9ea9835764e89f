package memory

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTaskStoreAt(t *testing.T) (*TaskStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewTaskStore(logger.Discard())
	s.now = clock.now
	return s, clock
}

func enqueue(t *testing.T, s *TaskStore, taskType string, availableAt time.Time) *task.Task {
	t.Helper()
	tk, err := task.NewTask(taskType, map[string]int{"n": 1}, 3)
	require.NoError(t, err)
	tk.AvailableAt = availableAt
	require.NoError(t, s.Enqueue(context.Background(), tk))
	return tk
}

func TestTaskStoreClaimRespectsQueuesAndAvailability(t *testing.T) {
	s, clock := newTaskStoreAt(t)
	ctx := context.Background()

	early := enqueue(t, s, task.TaskTypePersonaGeneration, clock.t.Add(-2*time.Second))
	late := enqueue(t, s, task.TaskTypePersonaGeneration, clock.t.Add(-time.Second))
	enqueue(t, s, task.TaskTypePersonaGeneration, clock.t.Add(time.Minute))
	enqueue(t, s, task.TaskTypeFeedbackGeneration, clock.t.Add(-time.Hour))

	claimed, err := s.Claim(ctx, []string{task.TaskTypePersonaGeneration}, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, early.ID, claimed[0].ID)
	assert.Equal(t, late.ID, claimed[1].ID)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, task.TaskStatusProcessing, claimed[0].Status)

	again, err := s.Claim(ctx, []string{task.TaskTypePersonaGeneration}, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed tasks stay locked")
}

func TestTaskStoreVisibilityTimeoutRedelivers(t *testing.T) {
	s, clock := newTaskStoreAt(t)
	ctx := context.Background()
	queues := []string{task.TaskTypeFeedbackGeneration}

	tk := enqueue(t, s, task.TaskTypeFeedbackGeneration, clock.t)

	claimed, err := s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	clock.t = clock.t.Add(2 * time.Minute)
	claimed, err = s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, tk.ID, claimed[0].ID)
	assert.Equal(t, 2, claimed[0].Attempts)
}

func TestTaskStoreRetryAckAndDeadLetter(t *testing.T) {
	s, clock := newTaskStoreAt(t)
	ctx := context.Background()
	queues := []string{task.TaskTypePersonaGeneration}

	tk := enqueue(t, s, task.TaskTypePersonaGeneration, clock.t)
	_, err := s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Retry(ctx, tk.ID, "503", clock.t.Add(10*time.Second)))
	claimed, err := s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "retry is delayed")

	clock.t = clock.t.Add(10 * time.Second)
	claimed, err = s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "503", claimed[0].LastError)

	require.NoError(t, s.DeadLetter(ctx, tk.ID, "gave up"))
	got, ok := s.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "persona_generation.dlq", got.Queue)

	dead, err := s.ListDeadLettered(ctx, task.TaskTypePersonaGeneration, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	require.NoError(t, s.Requeue(ctx, tk.ID))
	assert.ErrorIs(t, s.Requeue(ctx, tk.ID), store.ErrNotFound)

	claimed, err = s.Claim(ctx, queues, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts, "requeue resets the attempt budget")

	require.NoError(t, s.Ack(ctx, tk.ID))
	got, _ = s.Get(tk.ID)
	assert.Equal(t, task.TaskStatusCompleted, got.Status)
	assert.Nil(t, got.LockedUntil)
}

func TestTaskStoreDeferRefundsAttempt(t *testing.T) {
	s, clock := newTaskStoreAt(t)
	ctx := context.Background()
	queues := []string{task.TaskTypeFeedbackGeneration}

	tk := enqueue(t, s, task.TaskTypeFeedbackGeneration, clock.t)
	for i := 0; i < 5; i++ {
		claimed, err := s.Claim(ctx, queues, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 1, claimed[0].Attempts)

		require.NoError(t, s.Defer(ctx, tk.ID, "persona not ready", clock.t.Add(time.Second)))
		clock.t = clock.t.Add(time.Second)
	}

	got, ok := s.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, task.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, "persona not ready", got.LastError)
	assert.Nil(t, got.LockedUntil)
}

func TestUnitOfWorkOutbox(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskStore(logger.Discard())
	db := NewDB(logger.Discard()).WithTasks(tasks, 4)

	err := db.Do(ctx, func(ctx context.Context, s store.Stores) error {
		require.NotNil(t, s.Outbox)
		require.NoError(t, s.Outbox.Publish(ctx, task.TaskTypePersonaGeneration, map[string]int{"n": 1}))
		assert.Empty(t, tasks.List(task.TaskTypePersonaGeneration), "staged until commit")
		return nil
	})
	require.NoError(t, err)
	committed := tasks.List(task.TaskTypePersonaGeneration)
	require.Len(t, committed, 1)
	assert.Equal(t, 4, committed[0].MaxAttempts)

	p := newPersona(t)
	err = db.Do(ctx, func(ctx context.Context, s store.Stores) error {
		require.NoError(t, s.Personas.Create(ctx, p))
		require.NoError(t, s.Outbox.Publish(ctx, task.TaskTypePersonaGeneration, map[string]int{"n": 2}))
		return store.ErrPersonaNotFound
	})
	require.Error(t, err)
	assert.Len(t, tasks.List(task.TaskTypePersonaGeneration), 1, "rolled back tasks are dropped")
	_, err = db.Stores().Personas.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrPersonaNotFound)

	assert.Nil(t, db.Stores().Outbox)
	err = NewDB(logger.Discard()).Do(ctx, func(_ context.Context, s store.Stores) error {
		assert.Nil(t, s.Outbox)
		return nil
	})
	require.NoError(t, err)
}
