package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/platform/memory"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/stretchr/testify/require"
)

type fakeGrouper struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (g *fakeGrouper) GroupConcerns(_ context.Context, concerns []string) ([]domain.Theme, error) {
	g.calls.Add(1)
	if g.fail.Load() {
		return nil, errors.New("provider unavailable")
	}
	return []domain.Theme{{Name: "Everything", Count: len(concerns)}}, nil
}

// openLocker grants every lock immediately, leaving mutual exclusion to the
// conditional session update.
type openLocker struct{}

func (openLocker) TryAcquire(context.Context, string, time.Duration) (lock.Guard, error) {
	return openGuard{}, nil
}

type openGuard struct{}

func (openGuard) Release(context.Context) error { return nil }

type harness struct {
	db        *memory.DB
	stores    store.Stores
	tasks     *memory.TaskStore
	queue     *task.TaskQueue
	submitter *service.SubmissionService
	owner     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tasks := memory.NewTaskStore(logger.Discard())
	db := memory.NewDB(logger.Discard()).WithTasks(tasks, 3)
	queue := task.NewTaskQueue(tasks, 3, logger.Discard())

	submitter, err := service.NewSubmissionService(db, db.Stores(), queue, service.DefaultSubmissionConfig(), logger.Discard())
	require.NoError(t, err)

	return &harness{
		db:        db,
		stores:    db.Stores(),
		tasks:     tasks,
		queue:     queue,
		submitter: submitter,
		owner:     uuid.New(),
	}
}

func (h *harness) persona(t *testing.T, age int) *domain.Persona {
	t.Helper()
	p, err := domain.NewPersona(h.owner, domain.Demographics{Age: age, Occupation: "tester"}, domain.Psychographics{})
	require.NoError(t, err)
	require.NoError(t, h.stores.Personas.Create(context.Background(), p))
	return p
}

func (h *harness) activePersona(t *testing.T, age int) *domain.Persona {
	t.Helper()
	p := h.persona(t, age)
	_, err := h.stores.Personas.CompleteGeneration(context.Background(), p.ID, "A bio.", "A style.")
	require.NoError(t, err)
	return p
}

func (h *harness) product(t *testing.T, name string) *domain.Product {
	t.Helper()
	p, err := h.submitter.CreateProduct(context.Background(), h.owner, service.ProductInput{Name: name})
	require.NoError(t, err)
	return p
}

// session creates a session over the given pairs without publishing tasks.
func (h *harness) session(t *testing.T, products, personas int) (*domain.FeedbackSession, []*domain.FeedbackResult) {
	t.Helper()
	var productIDs, personaIDs []uuid.UUID
	for i := 0; i < products; i++ {
		productIDs = append(productIDs, h.product(t, "product").ID)
	}
	for i := 0; i < personas; i++ {
		personaIDs = append(personaIDs, h.activePersona(t, 30+i).ID)
	}
	session, results, err := domain.NewFeedbackSession(h.owner, "en", productIDs, personaIDs)
	require.NoError(t, err)
	require.NoError(t, h.stores.Sessions.Create(context.Background(), session))
	require.NoError(t, h.stores.Results.CreateBatch(context.Background(), results))
	return session, results
}

func (h *harness) complete(t *testing.T, r *domain.FeedbackResult, intent int, concerns ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.stores.Results.MarkInProgress(ctx, r.ID)
	require.NoError(t, err)
	changed, err := h.stores.Results.Complete(ctx, r.ID, domain.Feedback{
		Narrative:      "Feedback.",
		PurchaseIntent: intent,
		Concerns:       concerns,
	})
	require.NoError(t, err)
	require.True(t, changed)
}

func (h *harness) fail(t *testing.T, r *domain.FeedbackResult) {
	t.Helper()
	ctx := context.Background()
	_, err := h.stores.Results.MarkInProgress(ctx, r.ID)
	require.NoError(t, err)
	changed, err := h.stores.Results.MarkFailed(ctx, r.ID, "gave up")
	require.NoError(t, err)
	require.True(t, changed)
}

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}
