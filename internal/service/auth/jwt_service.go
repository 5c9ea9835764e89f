// Package auth issues and validates the bearer tokens that identify the
// owner of personas, products and sessions.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JWTService defines operations for managing owner tokens.
type JWTService interface {
	// GenerateToken creates a signed token for ownerID.
	GenerateToken(ctx context.Context, ownerID uuid.UUID) (string, error)

	// ValidateToken checks the signature and time claims of tokenString and
	// returns its claims. The owner is taken from the sub claim.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of a token.
type Claims struct {
	// OwnerID is parsed from the sub claim.
	OwnerID   uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}
