package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/events"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionConfig(lockTimeout time.Duration) config.CompletionConfig {
	return config.CompletionConfig{
		LockTimeout:   lockTimeout,
		SweepInterval: time.Minute,
		SweepBatch:    10,
	}
}

func newCoordinator(t *testing.T, h *harness, locker lock.Locker, grouper generation.ThemeGrouper) *service.CompletionCoordinator {
	t.Helper()
	c, err := service.NewCompletionCoordinator(h.stores.Sessions, h.stores.Results, locker, grouper,
		completionConfig(2*time.Second), logger.Discard())
	require.NoError(t, err)
	return c
}

func insightsOf(t *testing.T, h *harness, id uuid.UUID) (*domain.FeedbackSession, domain.AggregatedInsights) {
	t.Helper()
	session, err := h.stores.Sessions.GetByID(context.Background(), id)
	require.NoError(t, err)
	var insights domain.AggregatedInsights
	if session.Insights != nil {
		require.NoError(t, json.Unmarshal(session.Insights, &insights))
	}
	return session, insights
}

func TestCompletionAggregatesInsights(t *testing.T) {
	h := newHarness(t)
	grouper := &fakeGrouper{}
	c := newCoordinator(t, h, lock.NewLocalLocker(), grouper)

	session, results := h.session(t, 1, 5)
	h.complete(t, results[0], 8, "price", "weight")
	h.complete(t, results[1], 3, "price", "size")
	h.complete(t, results[2], 9, "color", "price")
	h.complete(t, results[3], 7, "size", "noise")
	h.fail(t, results[4])

	completed, err := c.TryComplete(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, completed)

	stored, insights := insightsOf(t, h, session.ID)
	assert.True(t, stored.IsCompleted())
	assert.NotNil(t, stored.CompletedAt)
	assert.InDelta(t, 6.75, insights.AverageScore, 0.0001)
	assert.InDelta(t, 50, insights.PurchaseIntentPercent, 0.0001)
	assert.Equal(t, 4, insights.CompletedCount)
	assert.Equal(t, 1, insights.FailedCount)
	assert.Equal(t, []domain.Theme{{Name: "Everything", Count: 8}}, insights.Themes)

	again, err := c.TryComplete(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, int32(1), grouper.calls.Load())
}

func TestCompletionWaitsForAllResults(t *testing.T) {
	h := newHarness(t)
	grouper := &fakeGrouper{}
	c := newCoordinator(t, h, lock.NewLocalLocker(), grouper)

	session, results := h.session(t, 2, 1)
	h.complete(t, results[0], 5, "a", "b")

	completed, err := c.TryComplete(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, completed)

	stored, _ := insightsOf(t, h, session.ID)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)
	assert.Nil(t, stored.Insights)
	assert.Zero(t, grouper.calls.Load())
}

func TestCompletionAllFailedSkipsThemes(t *testing.T) {
	h := newHarness(t)
	grouper := &fakeGrouper{}
	c := newCoordinator(t, h, lock.NewLocalLocker(), grouper)

	session, results := h.session(t, 1, 2)
	h.fail(t, results[0])
	h.fail(t, results[1])

	assert.True(t, c.Check(context.Background(), session.ID))

	_, insights := insightsOf(t, h, session.ID)
	assert.Zero(t, insights.AverageScore)
	assert.Equal(t, 2, insights.FailedCount)
	assert.Empty(t, insights.Themes)
	assert.Zero(t, grouper.calls.Load())
}

func TestCompletionExactlyOnceUnderConcurrency(t *testing.T) {
	lockers := map[string]func() lock.Locker{
		"local locker":       func() lock.Locker { return lock.NewLocalLocker() },
		"conditional update": func() lock.Locker { return openLocker{} },
	}

	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			grouper := &fakeGrouper{}
			c := newCoordinator(t, h, newLocker(), grouper)

			session, results := h.session(t, 2, 2)
			for _, r := range results {
				h.complete(t, r, 6, "x", "y")
			}

			const n = 16
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if c.Check(context.Background(), session.ID) {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			stored, _ := insightsOf(t, h, session.ID)
			assert.True(t, stored.IsCompleted())
		})
	}
}

func TestCompletionAbandonsOnLockTimeout(t *testing.T) {
	h := newHarness(t)
	locker := lock.NewLocalLocker()
	c, err := service.NewCompletionCoordinator(h.stores.Sessions, h.stores.Results, locker, &fakeGrouper{},
		completionConfig(20*time.Millisecond), logger.Discard())
	require.NoError(t, err)

	session, results := h.session(t, 1, 1)
	h.complete(t, results[0], 9, "a", "b")

	guard, err := locker.TryAcquire(context.Background(), service.CompletionLockKey(session.ID), time.Second)
	require.NoError(t, err)

	_, err = c.TryComplete(context.Background(), session.ID)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.False(t, c.Check(context.Background(), session.ID))

	stored, _ := insightsOf(t, h, session.ID)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)

	require.NoError(t, guard.Release(context.Background()))
	assert.True(t, c.Check(context.Background(), session.ID))
}

func TestCompletionAggregationFailureLeavesSessionPending(t *testing.T) {
	h := newHarness(t)
	grouper := &fakeGrouper{}
	grouper.fail.Store(true)
	c := newCoordinator(t, h, lock.NewLocalLocker(), grouper)

	session, results := h.session(t, 1, 1)
	h.complete(t, results[0], 4, "a", "b")

	_, err := c.TryComplete(context.Background(), session.ID)
	assert.ErrorContains(t, err, "failed to group concerns")

	stored, _ := insightsOf(t, h, session.ID)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)

	grouper.fail.Store(false)
	assert.True(t, c.Check(context.Background(), session.ID))
}

func TestCompletionHandleEventContainsErrors(t *testing.T) {
	h := newHarness(t)
	c := newCoordinator(t, h, lock.NewLocalLocker(), &fakeGrouper{})

	unknown, err := events.NewResultTerminalEvent(events.ResultTerminal{SessionID: uuid.New(), ResultID: uuid.New(), Status: "COMPLETED"})
	require.NoError(t, err)
	assert.NoError(t, c.HandleEvent(context.Background(), unknown))

	malformed := &events.Event{ID: uuid.New(), Type: events.TypeResultTerminal, Payload: []byte(`{`)}
	assert.NoError(t, c.HandleEvent(context.Background(), malformed))

	session, results := h.session(t, 1, 1)
	h.complete(t, results[0], 10, "a", "b")
	event, err := events.NewResultTerminalEvent(events.ResultTerminal{SessionID: session.ID, ResultID: results[0].ID, Status: "COMPLETED"})
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(context.Background(), event))

	stored, _ := insightsOf(t, h, session.ID)
	assert.True(t, stored.IsCompleted())
}

// scriptedFeedback answers with an intent derived from the persona's age.
type scriptedFeedback struct{}

func (scriptedFeedback) GenerateFeedback(_ context.Context, req generation.FeedbackRequest) (*domain.Feedback, error) {
	return &domain.Feedback{
		Narrative:      "Feedback on " + req.Product.Name,
		PurchaseIntent: req.Demographics.Age % 10,
		Concerns:       []string{"price", req.Product.Name},
	}, nil
}

func TestSessionPipelineEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	grouper := &fakeGrouper{}
	coordinator := newCoordinator(t, h, lock.NewLocalLocker(), grouper)
	emitter := events.NewInMemoryEventEmitter(logger.Discard())
	emitter.RegisterHandler(events.TypeResultTerminal, coordinator)

	feedback, err := task.NewFeedbackGenerationHandler(h.stores, scriptedFeedback{}, emitter, logger.Discard())
	require.NoError(t, err)

	runner := task.NewTaskRunner(h.tasks, task.TaskRunnerConfig{
		WorkerCount:       4,
		ClaimBatch:        4,
		PollInterval:      5 * time.Millisecond,
		VisibilityTimeout: 5 * time.Second,
		RetryBaseDelay:    time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	}, logger.Discard())
	runner.Register(task.TaskTypeFeedbackGeneration, feedback)
	h.queue.OnEnqueue(runner.Notify)
	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop() })

	// Ages 21, 23 and 28 yield intents 1, 3 and 8.
	products := []uuid.UUID{h.product(t, "Pan").ID, h.product(t, "Pot").ID}
	personas := []uuid.UUID{h.activePersona(t, 21).ID, h.activePersona(t, 23).ID, h.activePersona(t, 28).ID}

	session, err := h.submitter.CreateFeedbackSession(ctx, h.owner, service.SessionRequest{
		ProductIDs: products,
		PersonaIDs: personas,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, session.TotalResults)

	require.Eventually(t, func() bool {
		stored, err := h.stores.Sessions.GetByID(ctx, session.ID)
		return err == nil && stored.IsCompleted()
	}, 5*time.Second, 10*time.Millisecond)

	view, err := h.submitter.GetSession(ctx, h.owner, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Results, 6)
	for _, r := range view.Results {
		assert.Equal(t, domain.ResultStatusCompleted, r.Status)
	}

	_, insights := insightsOf(t, h, session.ID)
	assert.InDelta(t, 4, insights.AverageScore, 0.0001)
	assert.InDelta(t, 33.33, insights.PurchaseIntentPercent, 0.0001)
	assert.Equal(t, 6, insights.CompletedCount)
	assert.Equal(t, []domain.Theme{{Name: "Everything", Count: 12}}, insights.Themes)
	assert.Equal(t, int32(1), grouper.calls.Load(), "insights are aggregated once")
}
