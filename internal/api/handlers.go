package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/api/shared"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/service"
)

// Submitter is the slice of the submission service the handlers use.
type Submitter interface {
	CreatePersonas(ctx context.Context, ownerID uuid.UUID, inputs []service.PersonaInput) ([]*domain.Persona, error)
	CreatePersonaBatch(ctx context.Context, ownerID uuid.UUID, audience generation.Audience, count int) (*service.BatchReceipt, error)
	GetPersona(ctx context.Context, ownerID, id uuid.UUID) (*domain.Persona, error)
	CreateProduct(ctx context.Context, ownerID uuid.UUID, in service.ProductInput) (*domain.Product, error)
	GetProduct(ctx context.Context, ownerID, id uuid.UUID) (*domain.Product, error)
	CreateFeedbackSession(ctx context.Context, ownerID uuid.UUID, req service.SessionRequest) (*domain.FeedbackSession, error)
	GetSession(ctx context.Context, ownerID, id uuid.UUID) (*service.SessionView, error)
}

var _ Submitter = (*service.SubmissionService)(nil)

// SubmissionHandler serves the persona, product and session routes.
type SubmissionHandler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(submitter Submitter, logger *slog.Logger) *SubmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionHandler{
		submitter: submitter,
		logger:    logger.With(slog.String("component", "submission_handler")),
	}
}

// CreatePersonas handles POST /api/personas. Generation runs in the
// background, so the personas come back GENERATING with 202.
func (h *SubmissionHandler) CreatePersonas(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req CreatePersonasRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	personas, err := h.submitter.CreatePersonas(r.Context(), ownerID, toPersonaInputs(req.Personas))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create personas")
		return
	}

	resp := CreatePersonasResponse{Personas: make([]PersonaResponse, len(personas))}
	for i, p := range personas {
		resp.Personas[i] = personaToResponse(p)
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// CreatePersonaBatch handles POST /api/personas/batch.
func (h *SubmissionHandler) CreatePersonaBatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req CreatePersonaBatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	receipt, err := h.submitter.CreatePersonaBatch(r.Context(), ownerID, req.Audience, req.Count)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit persona batch")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, BatchResponse{
		BatchID:    receipt.BatchID,
		PersonaIDs: receipt.PersonaIDs,
	})
}

// GetPersona handles GET /api/personas/{id}.
func (h *SubmissionHandler) GetPersona(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := handleOwnerAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.submitter.GetPersona(r.Context(), ownerID, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load persona")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, personaToResponse(p))
}

// CreateProduct handles POST /api/products.
func (h *SubmissionHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req CreateProductRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.submitter.CreateProduct(r.Context(), ownerID, service.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		Attributes:  req.Attributes,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create product")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, productToResponse(p))
}

// GetProduct handles GET /api/products/{id}.
func (h *SubmissionHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := handleOwnerAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.submitter.GetProduct(r.Context(), ownerID, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load product")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, productToResponse(p))
}

// CreateSession handles POST /api/sessions.
func (h *SubmissionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req CreateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.submitter.CreateFeedbackSession(r.Context(), ownerID, service.SessionRequest{
		ProductIDs:   req.ProductIDs,
		PersonaIDs:   req.PersonaIDs,
		LanguageCode: req.LanguageCode,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create session")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("feedback session accepted",
		slog.String("session_id", session.ID.String()),
		slog.Int("total_results", session.TotalResults))
	shared.RespondWithJSON(w, r, http.StatusAccepted, sessionToResponse(session, nil))
}

// GetSession handles GET /api/sessions/{id}.
func (h *SubmissionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := handleOwnerAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.submitter.GetSession(r.Context(), ownerID, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load session")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, sessionToResponse(view.Session, view.Results))
}
