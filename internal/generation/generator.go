package generation

import (
	"context"

	"github.com/phrazzld/personasim/internal/domain"
)

// PersonaDetailRequest carries the inputs a persona narrative is built from.
type PersonaDetailRequest struct {
	Demographics   domain.Demographics
	Psychographics domain.Psychographics
}

// PersonaDetails is the narrative produced for a persona.
type PersonaDetails struct {
	Bio             string `json:"bio"`
	EvaluationStyle string `json:"productEvaluationStyle"`
}

// Validate checks the required fields are present.
func (d *PersonaDetails) Validate() error {
	return domain.ValidatePersonaDetails(d.Bio, d.EvaluationStyle)
}

// FeedbackRequest carries everything a feedback call needs.
type FeedbackRequest struct {
	PersonaBio      string
	EvaluationStyle string
	Demographics    domain.Demographics
	Product         domain.Product
	LanguageCode    string
}

// Audience narrows the personas a batch should cover. Zero values leave a
// dimension unconstrained.
type Audience struct {
	AgeMin      int      `json:"ageMin,omitempty"      validate:"omitempty,gte=13,lte=120"`
	AgeMax      int      `json:"ageMax,omitempty"      validate:"omitempty,gte=13,lte=120,gtefield=AgeMin"`
	Gender      string   `json:"gender,omitempty"      validate:"max=50"`
	Location    string   `json:"location,omitempty"    validate:"max=200"`
	Occupation  string   `json:"occupation,omitempty"  validate:"max=200"`
	IncomeLevel string   `json:"incomeLevel,omitempty" validate:"max=100"`
	Interests   []string `json:"interests,omitempty"   validate:"max=20,dive,max=200"`
}

// PersonaSeed is one persona's inputs as produced by a batch call.
type PersonaSeed struct {
	Demographics   domain.Demographics   `json:"demographics"`
	Psychographics domain.Psychographics `json:"psychographics"`
}

// PersonaDetailGenerator expands persona inputs into narrative details.
// This interface serves as a boundary between the application core and
// external AI/LLM services.
type PersonaDetailGenerator interface {
	GeneratePersonaDetails(ctx context.Context, req PersonaDetailRequest) (*PersonaDetails, error)
}

// FeedbackGenerator simulates a persona's reaction to a product.
// The returned feedback has already passed domain validation.
type FeedbackGenerator interface {
	GenerateFeedback(ctx context.Context, req FeedbackRequest) (*domain.Feedback, error)
}

// ThemeGrouper clusters free-text concerns into named themes.
type ThemeGrouper interface {
	GroupConcerns(ctx context.Context, concerns []string) ([]domain.Theme, error)
}

// BatchGenerator produces count distinct persona seeds for an audience.
type BatchGenerator interface {
	GenerateBatch(ctx context.Context, audience Audience, count int) ([]PersonaSeed, error)
}
