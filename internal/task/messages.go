package task

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
)

// PersonaGenerationMessage asks for a persona's narrative details.
type PersonaGenerationMessage struct {
	PersonaID             uuid.UUID             `json:"personaId"`
	DemographicsPayload   domain.Demographics   `json:"demographicsPayload"`
	PsychographicsPayload domain.Psychographics `json:"psychographicsPayload"`
}

// Validate checks the fields every delivery needs.
func (m PersonaGenerationMessage) Validate() error {
	if m.PersonaID == uuid.Nil {
		return fmt.Errorf("%w: personaId is required", ErrInvalidMessage)
	}
	return nil
}

// FeedbackGenerationMessage asks for one persona's feedback on one product.
type FeedbackGenerationMessage struct {
	ResultID     uuid.UUID `json:"resultId"`
	ProductID    uuid.UUID `json:"productId"`
	PersonaID    uuid.UUID `json:"personaId"`
	LanguageCode string    `json:"languageCode"`
}

// Validate checks the fields every delivery needs.
func (m FeedbackGenerationMessage) Validate() error {
	switch {
	case m.ResultID == uuid.Nil:
		return fmt.Errorf("%w: resultId is required", ErrInvalidMessage)
	case m.ProductID == uuid.Nil:
		return fmt.Errorf("%w: productId is required", ErrInvalidMessage)
	case m.PersonaID == uuid.Nil:
		return fmt.Errorf("%w: personaId is required", ErrInvalidMessage)
	}
	return nil
}

// PersonaBatchMessage asks for count personas matching audience.
// BatchID seeds the IDs of the personas it produces, so a redelivered
// message creates the same personas.
type PersonaBatchMessage struct {
	BatchID  uuid.UUID           `json:"batchId"`
	OwnerID  uuid.UUID           `json:"ownerId"`
	Audience generation.Audience `json:"audience"`
	Count    int                 `json:"count"`
}

// Validate checks the fields every delivery needs.
func (m PersonaBatchMessage) Validate() error {
	switch {
	case m.BatchID == uuid.Nil:
		return fmt.Errorf("%w: batchId is required", ErrInvalidMessage)
	case m.OwnerID == uuid.Nil:
		return fmt.Errorf("%w: ownerId is required", ErrInvalidMessage)
	case m.Count < 1:
		return fmt.Errorf("%w: count must be positive", ErrInvalidMessage)
	}
	return nil
}

// BatchPersonaID derives the ID of the index-th persona of a batch.
func BatchPersonaID(batchID uuid.UUID, index int) uuid.UUID {
	return uuid.NewSHA1(batchID, []byte(fmt.Sprintf("persona-%d", index)))
}
