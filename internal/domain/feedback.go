package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle of a feedback session.
type SessionStatus string

// Possible session status values
const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// ResultStatus represents the lifecycle of a single feedback result.
type ResultStatus string

// Possible result status values
const (
	ResultStatusPending    ResultStatus = "PENDING"
	ResultStatusInProgress ResultStatus = "IN_PROGRESS"
	ResultStatusCompleted  ResultStatus = "COMPLETED"
	ResultStatusFailed     ResultStatus = "FAILED"
)

// Bounds on generated feedback.
const (
	MinPurchaseIntent = 1
	MaxPurchaseIntent = 10
	MinConcerns       = 2
	MaxConcerns       = 4
)

// Common validation errors for feedback entities
var (
	ErrEmptySessionID       = errors.New("session ID cannot be empty")
	ErrEmptyResultID        = errors.New("result ID cannot be empty")
	ErrEmptySessionOwner    = errors.New("session owner ID cannot be empty")
	ErrEmptySessionMatrix   = errors.New("session needs at least one product and one persona")
	ErrEmptyFeedback        = errors.New("feedback narrative cannot be empty")
	ErrInvalidIntent        = fmt.Errorf("purchase intent must be between %d and %d", MinPurchaseIntent, MaxPurchaseIntent)
	ErrInvalidConcernsCount = fmt.Errorf("concerns must contain between %d and %d entries", MinConcerns, MaxConcerns)
)

// Valid reports whether s is a known result status.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusPending, ResultStatusInProgress, ResultStatusCompleted, ResultStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends processing for the current delivery.
func (s ResultStatus) Terminal() bool {
	return s == ResultStatusCompleted || s == ResultStatusFailed
}

// CanTransitionTo reports whether the result state machine allows moving
// from s to next. FAILED -> IN_PROGRESS is the only backward edge and is
// taken when a failed task is redelivered.
func (s ResultStatus) CanTransitionTo(next ResultStatus) bool {
	switch s {
	case ResultStatusPending:
		return next == ResultStatusInProgress
	case ResultStatusInProgress:
		return next == ResultStatusCompleted || next == ResultStatusFailed
	case ResultStatusFailed:
		return next == ResultStatusInProgress
	default:
		return false
	}
}

// ClaimableStatuses lists the states a worker may move to IN_PROGRESS from.
func ClaimableStatuses() []ResultStatus {
	var out []ResultStatus
	for _, s := range []ResultStatus{ResultStatusPending, ResultStatusInProgress, ResultStatusCompleted, ResultStatusFailed} {
		if s.CanTransitionTo(ResultStatusInProgress) {
			out = append(out, s)
		}
	}
	return out
}

// FeedbackSession groups the results for a products x personas matrix.
// TotalResults is fixed at creation and is what completion is measured against.
type FeedbackSession struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	LanguageCode string          `json:"language_code"`
	Status       SessionStatus   `json:"status"`
	Insights     json.RawMessage `json:"insights,omitempty"`
	TotalResults int             `json:"total_results"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// FeedbackResult is one persona's feedback on one product.
type FeedbackResult struct {
	ID             uuid.UUID    `json:"id"`
	SessionID      uuid.UUID    `json:"session_id"`
	PersonaID      uuid.UUID    `json:"persona_id"`
	ProductID      uuid.UUID    `json:"product_id"`
	Status         ResultStatus `json:"status"`
	Feedback       string       `json:"feedback,omitempty"`
	PurchaseIntent int          `json:"purchase_intent,omitempty"`
	Concerns       []string     `json:"concerns,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewFeedbackSession builds a PENDING session together with one PENDING
// result per product/persona pair. Callers persist both in one transaction.
func NewFeedbackSession(
	ownerID uuid.UUID,
	languageCode string,
	productIDs []uuid.UUID,
	personaIDs []uuid.UUID,
) (*FeedbackSession, []*FeedbackResult, error) {
	if ownerID == uuid.Nil {
		return nil, nil, ErrEmptySessionOwner
	}
	if len(productIDs) == 0 || len(personaIDs) == 0 {
		return nil, nil, ErrEmptySessionMatrix
	}

	now := time.Now().UTC()
	session := &FeedbackSession{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		LanguageCode: strings.ToLower(strings.TrimSpace(languageCode)),
		Status:       SessionStatusPending,
		TotalResults: len(productIDs) * len(personaIDs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	results := make([]*FeedbackResult, 0, session.TotalResults)
	for _, productID := range productIDs {
		for _, personaID := range personaIDs {
			if productID == uuid.Nil || personaID == uuid.Nil {
				return nil, nil, ErrInvalidID
			}
			results = append(results, &FeedbackResult{
				ID:        uuid.New(),
				SessionID: session.ID,
				PersonaID: personaID,
				ProductID: productID,
				Status:    ResultStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	return session, results, nil
}

// IsCompleted reports whether the session has been finalized.
func (s *FeedbackSession) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// Feedback is the validated output of a feedback generation call.
type Feedback struct {
	Narrative      string   `json:"feedback"`
	PurchaseIntent int      `json:"purchaseIntent"`
	Concerns       []string `json:"concerns"`
}

// Validate enforces the bounds on generated feedback.
func (f *Feedback) Validate() error {
	if strings.TrimSpace(f.Narrative) == "" {
		return ErrEmptyFeedback
	}
	if f.PurchaseIntent < MinPurchaseIntent || f.PurchaseIntent > MaxPurchaseIntent {
		return ErrInvalidIntent
	}
	n := 0
	for _, c := range f.Concerns {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	if n != len(f.Concerns) || n < MinConcerns || n > MaxConcerns {
		return ErrInvalidConcernsCount
	}
	return nil
}
