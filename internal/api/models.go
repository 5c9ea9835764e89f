package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/service"
)

// PersonaRequest is one persona's inputs.
type PersonaRequest struct {
	Demographics   domain.Demographics   `json:"demographics"`
	Psychographics domain.Psychographics `json:"psychographics"`
}

// CreatePersonasRequest is the body of POST /api/personas.
type CreatePersonasRequest struct {
	Personas []PersonaRequest `json:"personas" validate:"required,min=1,max=50,dive"`
}

// CreatePersonaBatchRequest is the body of POST /api/personas/batch.
type CreatePersonaBatchRequest struct {
	Audience generation.Audience `json:"audience"`
	Count    int                 `json:"count"    validate:"required,gte=1,lte=50"`
}

// CreateProductRequest is the body of POST /api/products.
type CreateProductRequest struct {
	Name        string            `json:"name"                 validate:"required,max=200"`
	Description string            `json:"description,omitempty" validate:"max=5000"`
	Category    string            `json:"category,omitempty"    validate:"max=100"`
	PriceCents  int64             `json:"priceCents,omitempty"  validate:"gte=0"`
	Currency    string            `json:"currency,omitempty"    validate:"omitempty,len=3"`
	Attributes  map[string]string `json:"attributes,omitempty"  validate:"max=50"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ProductIDs   []uuid.UUID `json:"productIds"             validate:"required,min=1,max=50"`
	PersonaIDs   []uuid.UUID `json:"personaIds"             validate:"required,min=1,max=100"`
	LanguageCode string      `json:"languageCode,omitempty" validate:"omitempty,max=10"`
}

// Validate rejects nil IDs, which the tag rules cannot express.
func (r CreateSessionRequest) Validate() error {
	for _, ids := range [][]uuid.UUID{r.ProductIDs, r.PersonaIDs} {
		for _, id := range ids {
			if id == uuid.Nil {
				return errors.New("ids must not be nil")
			}
		}
	}
	return nil
}

// PersonaResponse is the API view of a persona.
type PersonaResponse struct {
	ID                     uuid.UUID             `json:"id"`
	Status                 string                `json:"status"`
	Demographics           domain.Demographics   `json:"demographics"`
	Psychographics         domain.Psychographics `json:"psychographics"`
	Bio                    string                `json:"bio,omitempty"`
	ProductEvaluationStyle string                `json:"productEvaluationStyle,omitempty"`
	CreatedAt              time.Time             `json:"createdAt"`
	UpdatedAt              time.Time             `json:"updatedAt"`
}

// CreatePersonasResponse lists the accepted personas.
type CreatePersonasResponse struct {
	Personas []PersonaResponse `json:"personas"`
}

// BatchResponse acknowledges a persona batch. PersonaIDs can be polled
// once the batch task has run.
type BatchResponse struct {
	BatchID    uuid.UUID   `json:"batchId"`
	PersonaIDs []uuid.UUID `json:"personaIds"`
}

// ProductResponse is the API view of a product.
type ProductResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	PriceCents  int64             `json:"priceCents,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ResultResponse is one product/persona feedback entry.
type ResultResponse struct {
	ID             uuid.UUID `json:"id"`
	PersonaID      uuid.UUID `json:"personaId"`
	ProductID      uuid.UUID `json:"productId"`
	Status         string    `json:"status"`
	Feedback       string    `json:"feedback,omitempty"`
	PurchaseIntent int       `json:"purchaseIntent,omitempty"`
	Concerns       []string  `json:"concerns,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// SessionResponse is the API view of a feedback session. Insights is the
// aggregate stored at completion.
type SessionResponse struct {
	ID           uuid.UUID        `json:"id"`
	Status       string           `json:"status"`
	LanguageCode string           `json:"languageCode"`
	TotalResults int              `json:"totalResults"`
	Insights     json.RawMessage  `json:"insights,omitempty"`
	Results      []ResultResponse `json:"results,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

func personaToResponse(p *domain.Persona) PersonaResponse {
	return PersonaResponse{
		ID:                     p.ID,
		Status:                 string(p.Status),
		Demographics:           p.Demographics,
		Psychographics:         p.Psychographics,
		Bio:                    p.Bio,
		ProductEvaluationStyle: p.EvaluationStyle,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func productToResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		PriceCents:  p.PriceCents,
		Currency:    p.Currency,
		Attributes:  p.Attributes,
		CreatedAt:   p.CreatedAt,
	}
}

func sessionToResponse(s *domain.FeedbackSession, results []*domain.FeedbackResult) SessionResponse {
	resp := SessionResponse{
		ID:           s.ID,
		Status:       string(s.Status),
		LanguageCode: s.LanguageCode,
		TotalResults: s.TotalResults,
		Insights:     s.Insights,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
	}
	if len(results) > 0 {
		resp.Results = make([]ResultResponse, 0, len(results))
	}
	for _, r := range results {
		resp.Results = append(resp.Results, ResultResponse{
			ID:             r.ID,
			PersonaID:      r.PersonaID,
			ProductID:      r.ProductID,
			Status:         string(r.Status),
			Feedback:       r.Feedback,
			PurchaseIntent: r.PurchaseIntent,
			Concerns:       r.Concerns,
			Error:          r.ErrorMessage,
		})
	}
	return resp
}

func toPersonaInputs(reqs []PersonaRequest) []service.PersonaInput {
	inputs := make([]service.PersonaInput, len(reqs))
	for i, p := range reqs {
		inputs[i] = service.PersonaInput{Demographics: p.Demographics, Psychographics: p.Psychographics}
	}
	return inputs
}
