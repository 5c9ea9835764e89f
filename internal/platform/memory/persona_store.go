package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
)

// PersonaStore implements store.PersonaStore.
type PersonaStore struct{ view }

var _ store.PersonaStore = (*PersonaStore)(nil)

// Create implements store.PersonaStore.Create
func (s *PersonaStore) Create(ctx context.Context, persona *domain.Persona) error {
	inserted, err := s.CreateIfAbsent(ctx, persona)
	if err != nil {
		return err
	}
	if !inserted {
		return store.ErrDuplicate
	}
	return nil
}

// CreateIfAbsent implements store.PersonaStore.CreateIfAbsent
func (s *PersonaStore) CreateIfAbsent(_ context.Context, persona *domain.Persona) (bool, error) {
	if err := persona.Validate(); err != nil {
		return false, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.personas[persona.ID]; ok {
		return false, nil
	}
	s.db.personas[persona.ID] = clonePersona(persona)
	id := persona.ID
	s.record(func() { delete(s.db.personas, id) })
	return true, nil
}

// GetByID implements store.PersonaStore.GetByID
func (s *PersonaStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Persona, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.personas[id]
	if !ok {
		return nil, store.ErrPersonaNotFound
	}
	return clonePersona(p), nil
}

// update applies fn to the stored persona when cond holds. Must be called
// with db.mu held.
func (s *PersonaStore) update(id uuid.UUID, cond func(*domain.Persona) bool, fn func(*domain.Persona)) bool {
	p, ok := s.db.personas[id]
	if !ok || !cond(p) {
		return false
	}
	before := clonePersona(p)
	fn(p)
	p.UpdatedAt = s.db.now()
	s.record(func() { s.db.personas[id] = before })
	return true
}

func notActive(p *domain.Persona) bool { return p.Status != domain.PersonaStatusActive }

// TryMarkGenerationInProgress implements store.PersonaStore.TryMarkGenerationInProgress
func (s *PersonaStore) TryMarkGenerationInProgress(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	now := s.db.now()
	acquired := s.update(id,
		func(p *domain.Persona) bool {
			if !notActive(p) {
				return false
			}
			return !p.GenerationInProgress ||
				p.GenerationStartedAt == nil ||
				p.GenerationStartedAt.Before(now.Add(-lease))
		},
		func(p *domain.Persona) {
			p.GenerationInProgress = true
			p.GenerationStartedAt = &now
			p.Status = domain.PersonaStatusGenerating
		})

	logger.FromContextOrDefault(ctx, s.db.logger).Debug("generation marker attempt",
		slog.String("persona_id", id.String()),
		slog.Bool("acquired", acquired))
	return acquired, nil
}

// ClearGenerationInProgress implements store.PersonaStore.ClearGenerationInProgress
func (s *PersonaStore) ClearGenerationInProgress(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.update(id,
		func(*domain.Persona) bool { return true },
		func(p *domain.Persona) {
			p.GenerationInProgress = false
			p.GenerationStartedAt = nil
		})
	return nil
}

// CompleteGeneration implements store.PersonaStore.CompleteGeneration
func (s *PersonaStore) CompleteGeneration(_ context.Context, id uuid.UUID, bio, evaluationStyle string) (bool, error) {
	if err := domain.ValidatePersonaDetails(bio, evaluationStyle); err != nil {
		return false, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.update(id, notActive, func(p *domain.Persona) {
		p.Bio = bio
		p.EvaluationStyle = evaluationStyle
		p.Status = domain.PersonaStatusActive
		p.GenerationInProgress = false
		p.GenerationStartedAt = nil
	}), nil
}

// MarkFailed implements store.PersonaStore.MarkFailed
func (s *PersonaStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.update(id, notActive, func(p *domain.Persona) {
		p.Status = domain.PersonaStatusFailed
		p.GenerationInProgress = false
		p.GenerationStartedAt = nil
	})
	return nil
}

// ProductStore implements store.ProductStore.
type ProductStore struct{ view }

var _ store.ProductStore = (*ProductStore)(nil)

// Create implements store.ProductStore.Create
func (s *ProductStore) Create(_ context.Context, product *domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.products[product.ID]; ok {
		return store.ErrDuplicate
	}
	s.db.products[product.ID] = cloneProduct(product)
	id := product.ID
	s.record(func() { delete(s.db.products, id) })
	return nil
}

// GetByID implements store.ProductStore.GetByID
func (s *ProductStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	return cloneProduct(p), nil
}
