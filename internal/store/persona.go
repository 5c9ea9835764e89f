package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
)

// PersonaStore defines the interface for persona data persistence.
type PersonaStore interface {
	// Create saves a new persona. Returns ErrDuplicate if the ID is taken.
	Create(ctx context.Context, persona *domain.Persona) error

	// CreateIfAbsent saves persona unless a row with its ID already exists.
	// The boolean reports whether a row was inserted. Batch expansion uses
	// it so a redelivered batch does not duplicate personas.
	CreateIfAbsent(ctx context.Context, persona *domain.Persona) (bool, error)

	// GetByID retrieves a persona by its unique ID.
	// Returns ErrPersonaNotFound if the persona does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Persona, error)

	// TryMarkGenerationInProgress sets the generation marker if the persona
	// is not ACTIVE and the marker is clear or older than lease. It reports
	// whether this caller now holds the marker. Implementations commit the
	// change on their own, independent of any surrounding work.
	TryMarkGenerationInProgress(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)

	// ClearGenerationInProgress clears the marker unconditionally.
	ClearGenerationInProgress(ctx context.Context, id uuid.UUID) error

	// CompleteGeneration stores the narrative fields and flips the persona
	// to ACTIVE. It reports false when the persona was already ACTIVE.
	CompleteGeneration(ctx context.Context, id uuid.UUID, bio, evaluationStyle string) (bool, error)

	// MarkFailed moves a GENERATING persona to FAILED and clears the marker.
	// ACTIVE personas are left untouched.
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// ProductStore defines the interface for product data persistence.
type ProductStore interface {
	// Create saves a new product.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID retrieves a product by its unique ID.
	// Returns ErrProductNotFound if the product does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
}
