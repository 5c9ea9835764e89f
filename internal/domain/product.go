package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Product
var (
	ErrEmptyProductID   = errors.New("product ID cannot be empty")
	ErrEmptyProductName = errors.New("product name cannot be empty")
)

// Product is the read-only snapshot of an item personas give feedback on.
type Product struct {
	ID          uuid.UUID         `json:"id"`
	OwnerID     uuid.UUID         `json:"owner_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	PriceCents  int64             `json:"price_cents,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewProduct creates a Product with a fresh ID.
func NewProduct(ownerID uuid.UUID, name, description string) (*Product, error) {
	p := &Product{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks if the Product has valid data.
func (p *Product) Validate() error {
	if p.ID == uuid.Nil {
		return ErrEmptyProductID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyProductName
	}
	return nil
}
