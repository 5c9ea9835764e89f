package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PersonaStatus represents the generation state of a persona.
type PersonaStatus string

// Possible persona status values
const (
	PersonaStatusGenerating PersonaStatus = "GENERATING"
	PersonaStatusActive     PersonaStatus = "ACTIVE"
	PersonaStatusFailed     PersonaStatus = "FAILED"
)

// Valid reports whether s is a known persona status.
func (s PersonaStatus) Valid() bool {
	switch s {
	case PersonaStatusGenerating, PersonaStatusActive, PersonaStatusFailed:
		return true
	}
	return false
}

// Common validation errors for Persona
var (
	ErrEmptyPersonaID      = errors.New("persona ID cannot be empty")
	ErrEmptyPersonaOwnerID = errors.New("persona owner ID cannot be empty")
	ErrInvalidPersonaAge   = errors.New("persona age must be between 13 and 120")
	ErrMissingBio          = errors.New("persona bio cannot be empty")
	ErrMissingEvalStyle    = errors.New("persona product evaluation style cannot be empty")
)

// Demographics are the measurable attributes a persona is built from.
type Demographics struct {
	Name        string `json:"name,omitempty"        validate:"max=100"`
	Age         int    `json:"age"                   validate:"gte=13,lte=120"`
	Gender      string `json:"gender,omitempty"      validate:"max=50"`
	Location    string `json:"location,omitempty"    validate:"max=200"`
	Occupation  string `json:"occupation,omitempty"  validate:"max=200"`
	IncomeLevel string `json:"incomeLevel,omitempty" validate:"max=100"`
	Education   string `json:"education,omitempty"   validate:"max=200"`
}

// Psychographics describe attitudes and habits.
type Psychographics struct {
	Values            []string `json:"values,omitempty"            validate:"max=20,dive,max=200"`
	Interests         []string `json:"interests,omitempty"         validate:"max=20,dive,max=200"`
	PersonalityTraits []string `json:"personalityTraits,omitempty" validate:"max=20,dive,max=200"`
	Lifestyle         string   `json:"lifestyle,omitempty"         validate:"max=500"`
	ShoppingHabits    string   `json:"shoppingHabits,omitempty"    validate:"max=500"`
}

// Persona is a synthetic consumer. It is created in the GENERATING state
// and receives its narrative fields once the generation worker succeeds.
type Persona struct {
	ID             uuid.UUID      `json:"id"`
	OwnerID        uuid.UUID      `json:"owner_id"`
	Demographics   Demographics   `json:"demographics"`
	Psychographics Psychographics `json:"psychographics"`

	// Fingerprint is the canonical serialization of the inputs; equal
	// inputs always produce equal fingerprints.
	Fingerprint string `json:"fingerprint"`

	// GenerationInProgress is the marker a worker holds while generating.
	// GenerationStartedAt records when it was set.
	GenerationInProgress bool       `json:"generation_in_progress"`
	GenerationStartedAt  *time.Time `json:"generation_started_at,omitempty"`

	Status          PersonaStatus `json:"status"`
	Bio             string        `json:"bio,omitempty"`
	EvaluationStyle string        `json:"product_evaluation_style,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewPersona creates a GENERATING persona with a fresh ID.
func NewPersona(ownerID uuid.UUID, d Demographics, p Psychographics) (*Persona, error) {
	return NewPersonaWithID(uuid.New(), ownerID, d, p)
}

// NewPersonaWithID is NewPersona with a caller-chosen ID, used where IDs
// must be reproducible across retries.
func NewPersonaWithID(id, ownerID uuid.UUID, d Demographics, p Psychographics) (*Persona, error) {
	fp, err := Fingerprint(d, p)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	persona := &Persona{
		ID:             id,
		OwnerID:        ownerID,
		Demographics:   d,
		Psychographics: p,
		Fingerprint:    fp,
		Status:         PersonaStatusGenerating,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := persona.Validate(); err != nil {
		return nil, err
	}
	return persona, nil
}

// Validate checks if the Persona has valid data.
func (p *Persona) Validate() error {
	if p.ID == uuid.Nil {
		return ErrEmptyPersonaID
	}
	if p.OwnerID == uuid.Nil {
		return ErrEmptyPersonaOwnerID
	}
	if p.Demographics.Age < 13 || p.Demographics.Age > 120 {
		return ErrInvalidPersonaAge
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: persona status %q", ErrInvalidStatus, p.Status)
	}
	if p.Status == PersonaStatusActive {
		return ValidatePersonaDetails(p.Bio, p.EvaluationStyle)
	}
	return nil
}

// ValidatePersonaDetails checks the generated narrative fields required
// before a persona may become ACTIVE.
func ValidatePersonaDetails(bio, evaluationStyle string) error {
	if strings.TrimSpace(bio) == "" {
		return ErrMissingBio
	}
	if strings.TrimSpace(evaluationStyle) == "" {
		return ErrMissingEvalStyle
	}
	return nil
}

// IsActive reports whether generation has finished successfully.
func (p *Persona) IsActive() bool {
	return p.Status == PersonaStatusActive
}
