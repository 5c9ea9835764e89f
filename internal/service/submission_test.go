package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingOutbox fails the failAt-th publish and delegates the rest.
type failingOutbox struct {
	next      store.Outbox
	failAt    int
	published *int
}

func (o failingOutbox) Publish(ctx context.Context, taskType string, payload any) error {
	*o.published++
	if *o.published == o.failAt {
		return errors.New("task store unavailable")
	}
	return o.next.Publish(ctx, taskType, payload)
}

// failingUnitOfWork runs units of work on db with an outbox that fails the
// failAt-th publish.
func failingUnitOfWork(db store.UnitOfWork, failAt int) (store.UnitOfWork, *int) {
	published := new(int)
	return store.UnitOfWorkFunc(func(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
		return db.Do(ctx, func(ctx context.Context, s store.Stores) error {
			s.Outbox = failingOutbox{next: s.Outbox, failAt: failAt, published: published}
			return fn(ctx, s)
		})
	}), published
}

func TestCreatePersonas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	personas, err := h.submitter.CreatePersonas(ctx, h.owner, []service.PersonaInput{
		{Demographics: domain.Demographics{Age: 25, Occupation: "nurse"}},
		{Demographics: domain.Demographics{Age: 61, Occupation: "farmer"}},
	})
	require.NoError(t, err)
	require.Len(t, personas, 2)

	for _, p := range personas {
		stored, err := h.stores.Personas.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PersonaStatusGenerating, stored.Status)
		assert.Equal(t, h.owner, stored.OwnerID)
	}

	queued := h.tasks.List(task.TaskTypePersonaGeneration)
	require.Len(t, queued, 2)
	var msg task.PersonaGenerationMessage
	require.NoError(t, queued[0].Decode(&msg))
	assert.Contains(t, []uuid.UUID{personas[0].ID, personas[1].ID}, msg.PersonaID)
	assert.NotZero(t, msg.DemographicsPayload.Age)
}

func TestCreatePersonasRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.submitter.CreatePersonas(context.Background(), h.owner, []service.PersonaInput{
		{Demographics: domain.Demographics{Age: 40}},
		{Demographics: domain.Demographics{Age: 7}},
	})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Empty(t, h.tasks.List(task.TaskTypePersonaGeneration))

	_, err = h.submitter.CreatePersonas(context.Background(), h.owner, nil)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestCreatePersonasPublishFailure(t *testing.T) {
	h := newHarness(t)
	h.queue.Close()

	_, err := h.submitter.CreatePersonas(context.Background(), h.owner, []service.PersonaInput{
		{Demographics: domain.Demographics{Age: 40}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrQueueClosed)

	var svcErr *service.ServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "create_personas", svcErr.Operation)
}

func TestCreatePersonaBatch(t *testing.T) {
	h := newHarness(t)

	receipt, err := h.submitter.CreatePersonaBatch(context.Background(), h.owner,
		generation.Audience{AgeMin: 20, AgeMax: 30}, 3)
	require.NoError(t, err)
	require.Len(t, receipt.PersonaIDs, 3)
	for i, id := range receipt.PersonaIDs {
		assert.Equal(t, task.BatchPersonaID(receipt.BatchID, i), id)
	}

	queued := h.tasks.List(task.TaskTypePersonaBatch)
	require.Len(t, queued, 1)
	var msg task.PersonaBatchMessage
	require.NoError(t, queued[0].Decode(&msg))
	assert.Equal(t, receipt.BatchID, msg.BatchID)
	assert.Equal(t, 3, msg.Count)
	assert.Equal(t, 20, msg.Audience.AgeMin)

	_, err = h.submitter.CreatePersonaBatch(context.Background(), h.owner, generation.Audience{}, 0)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = h.submitter.CreatePersonaBatch(context.Background(), h.owner, generation.Audience{AgeMin: 50, AgeMax: 30}, 2)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestCreateFeedbackSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	products := []uuid.UUID{h.product(t, "Pan").ID, h.product(t, "Pot").ID}
	personas := []uuid.UUID{h.persona(t, 20).ID, h.persona(t, 30).ID, h.persona(t, 40).ID}

	session, err := h.submitter.CreateFeedbackSession(ctx, h.owner, service.SessionRequest{
		ProductIDs:   append(products, products[0]),
		PersonaIDs:   personas,
		LanguageCode: "xx",
	})
	require.NoError(t, err)

	assert.Equal(t, 6, session.TotalResults)
	assert.Equal(t, "en", session.LanguageCode)
	assert.Equal(t, domain.SessionStatusPending, session.Status)

	view, err := h.submitter.GetSession(ctx, h.owner, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Results, 6)
	resultIDs := make(map[uuid.UUID]bool)
	for _, r := range view.Results {
		assert.Equal(t, domain.ResultStatusPending, r.Status)
		resultIDs[r.ID] = true
	}

	queued := h.tasks.List(task.TaskTypeFeedbackGeneration)
	require.Len(t, queued, 6)
	for _, q := range queued {
		var msg task.FeedbackGenerationMessage
		require.NoError(t, q.Decode(&msg))
		assert.Equal(t, "en", msg.LanguageCode)
		assert.True(t, resultIDs[msg.ResultID], "every task points at a stored result")
	}
}

func TestCreateFeedbackSessionPublishFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	products := []uuid.UUID{h.product(t, "Pan").ID, h.product(t, "Pot").ID}
	personas := []uuid.UUID{h.persona(t, 20).ID, h.persona(t, 30).ID, h.persona(t, 40).ID}

	uow, published := failingUnitOfWork(h.db, 3)
	submitter, err := service.NewSubmissionService(uow, h.stores, h.queue, service.DefaultSubmissionConfig(), logger.Discard())
	require.NoError(t, err)

	_, err = submitter.CreateFeedbackSession(ctx, h.owner, service.SessionRequest{
		ProductIDs: products,
		PersonaIDs: personas,
	})
	require.Error(t, err)
	assert.Equal(t, 3, *published)

	pending, err := h.stores.Sessions.ListPendingIDs(ctx, farFuture(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "no session survives a failed publish")
	assert.Empty(t, h.tasks.List(task.TaskTypeFeedbackGeneration), "no task survives a failed publish")

	session, err := h.submitter.CreateFeedbackSession(ctx, h.owner, service.SessionRequest{
		ProductIDs: products,
		PersonaIDs: personas,
	})
	require.NoError(t, err)
	view, err := h.submitter.GetSession(ctx, h.owner, session.ID)
	require.NoError(t, err)
	assert.Len(t, view.Results, 6)
	assert.Len(t, h.tasks.List(task.TaskTypeFeedbackGeneration), 6)
}

func TestCreatePersonasPublishFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uow, _ := failingUnitOfWork(h.db, 2)
	submitter, err := service.NewSubmissionService(uow, h.stores, h.queue, service.DefaultSubmissionConfig(), logger.Discard())
	require.NoError(t, err)

	_, err = submitter.CreatePersonas(ctx, h.owner, []service.PersonaInput{
		{Demographics: domain.Demographics{Age: 25, Occupation: "nurse"}},
		{Demographics: domain.Demographics{Age: 61, Occupation: "farmer"}},
	})
	require.Error(t, err)
	assert.Empty(t, h.tasks.List(task.TaskTypePersonaGeneration))
}

func TestCreateFeedbackSessionRequiresOutbox(t *testing.T) {
	h := newHarness(t)
	plain := store.UnitOfWorkFunc(func(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
		return fn(ctx, h.stores)
	})
	submitter, err := service.NewSubmissionService(plain, h.stores, h.queue, service.DefaultSubmissionConfig(), logger.Discard())
	require.NoError(t, err)

	_, err = submitter.CreateFeedbackSession(context.Background(), h.owner, service.SessionRequest{
		ProductIDs: []uuid.UUID{h.product(t, "Pan").ID},
		PersonaIDs: []uuid.UUID{h.persona(t, 33).ID},
	})
	require.Error(t, err)
	assert.Empty(t, h.tasks.List(task.TaskTypeFeedbackGeneration))
}

func TestCreateFeedbackSessionKeepsSupportedLanguage(t *testing.T) {
	h := newHarness(t)

	session, err := h.submitter.CreateFeedbackSession(context.Background(), h.owner, service.SessionRequest{
		ProductIDs:   []uuid.UUID{h.product(t, "Pan").ID},
		PersonaIDs:   []uuid.UUID{h.persona(t, 33).ID},
		LanguageCode: "DE",
	})
	require.NoError(t, err)
	assert.Equal(t, "de", session.LanguageCode)
}

func TestCreateFeedbackSessionRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	product := h.product(t, "Pan")
	persona := h.persona(t, 33)

	failed := h.persona(t, 44)
	require.NoError(t, h.stores.Personas.MarkFailed(ctx, failed.ID))

	other := newHarness(t)
	foreign, err := h.submitter.CreateProduct(ctx, other.owner, service.ProductInput{Name: "Theirs"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    service.SessionRequest
		target error
	}{
		{
			name:   "foreign product",
			req:    service.SessionRequest{ProductIDs: []uuid.UUID{foreign.ID}, PersonaIDs: []uuid.UUID{persona.ID}},
			target: service.ErrNotOwned,
		},
		{
			name:   "unknown persona",
			req:    service.SessionRequest{ProductIDs: []uuid.UUID{product.ID}, PersonaIDs: []uuid.UUID{uuid.New()}},
			target: service.ErrPersonaNotFound,
		},
		{
			name:   "unknown product",
			req:    service.SessionRequest{ProductIDs: []uuid.UUID{uuid.New()}, PersonaIDs: []uuid.UUID{persona.ID}},
			target: service.ErrProductNotFound,
		},
		{
			name:   "failed persona",
			req:    service.SessionRequest{ProductIDs: []uuid.UUID{product.ID}, PersonaIDs: []uuid.UUID{persona.ID, failed.ID}},
			target: service.ErrInvalidInput,
		},
		{
			name:   "empty matrix",
			req:    service.SessionRequest{ProductIDs: []uuid.UUID{product.ID}},
			target: service.ErrInvalidInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.submitter.CreateFeedbackSession(ctx, h.owner, tc.req)
			assert.ErrorIs(t, err, tc.target)
		})
	}

	pending, err := h.stores.Sessions.ListPendingIDs(ctx, farFuture(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected sessions leave nothing behind")
	assert.Empty(t, h.tasks.List(task.TaskTypeFeedbackGeneration))
}

func TestGetChecksOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	persona := h.persona(t, 50)
	stranger := uuid.New()

	got, err := h.submitter.GetPersona(ctx, h.owner, persona.ID)
	require.NoError(t, err)
	assert.Equal(t, persona.ID, got.ID)

	_, err = h.submitter.GetPersona(ctx, stranger, persona.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)

	_, err = h.submitter.GetPersona(ctx, h.owner, uuid.New())
	assert.ErrorIs(t, err, service.ErrPersonaNotFound)

	session, _ := h.session(t, 1, 1)
	_, err = h.submitter.GetSession(ctx, stranger, session.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)

	_, err = h.submitter.GetSession(ctx, h.owner, uuid.New())
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestNewSubmissionServiceValidatesDependencies(t *testing.T) {
	_, err := service.NewSubmissionService(nil, store.Stores{}, nil, service.SubmissionConfig{}, nil)
	var svcErr *service.ServiceError
	assert.ErrorAs(t, err, &svcErr)
}
