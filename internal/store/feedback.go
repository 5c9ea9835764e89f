package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
)

// SessionStore defines the interface for feedback session persistence.
type SessionStore interface {
	// Create saves a new session.
	Create(ctx context.Context, session *domain.FeedbackSession) error

	// GetByID retrieves a session by its unique ID.
	// Returns ErrSessionNotFound if the session does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackSession, error)

	// CompleteIfPending stores insights and flips the session to COMPLETED
	// in one conditional write. It reports false when the session was
	// already COMPLETED, in which case nothing is changed.
	CompleteIfPending(ctx context.Context, id uuid.UUID, insights json.RawMessage) (bool, error)

	// ListPendingIDs returns up to limit PENDING sessions created before
	// createdBefore, oldest first.
	ListPendingIDs(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

// TerminalCounts is the number of results of a session in each terminal state.
type TerminalCounts struct {
	Completed int
	Failed    int
}

// Total returns Completed + Failed.
func (c TerminalCounts) Total() int { return c.Completed + c.Failed }

// ResultStore defines the interface for feedback result persistence.
// State changes are conditional on the current status so that concurrent
// or repeated deliveries cannot move a result backwards.
type ResultStore interface {
	// CreateBatch saves results in order.
	CreateBatch(ctx context.Context, results []*domain.FeedbackResult) error

	// GetByID retrieves a result by its unique ID.
	// Returns ErrResultNotFound if the result does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FeedbackResult, error)

	// MarkInProgress moves a PENDING or FAILED result to IN_PROGRESS and
	// clears any previous error. It reports whether a row changed.
	MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error)

	// Complete stores the feedback and moves an IN_PROGRESS result to
	// COMPLETED. It reports whether a row changed.
	Complete(ctx context.Context, id uuid.UUID, feedback domain.Feedback) (bool, error)

	// MarkFailed records errMsg and moves an IN_PROGRESS result to FAILED.
	// It reports whether a row changed.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)

	// CountTerminal counts the session's COMPLETED and FAILED results.
	CountTerminal(ctx context.Context, sessionID uuid.UUID) (TerminalCounts, error)

	// ListCompleted returns the session's COMPLETED results.
	ListCompleted(ctx context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error)

	// ListBySession returns every result of the session, oldest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error)
}
