package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/store"
)

// SessionStore implements store.SessionStore.
type SessionStore struct{ view }

var _ store.SessionStore = (*SessionStore)(nil)

// Create implements store.SessionStore.Create
func (s *SessionStore) Create(_ context.Context, session *domain.FeedbackSession) error {
	if session.ID == uuid.Nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrEmptySessionID)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.sessions[session.ID]; ok {
		return store.ErrDuplicate
	}
	s.db.sessions[session.ID] = cloneSession(session)
	id := session.ID
	s.record(func() { delete(s.db.sessions, id) })
	return nil
}

// GetByID implements store.SessionStore.GetByID
func (s *SessionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.FeedbackSession, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	session, ok := s.db.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// CompleteIfPending implements store.SessionStore.CompleteIfPending
func (s *SessionStore) CompleteIfPending(_ context.Context, id uuid.UUID, insights json.RawMessage) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	session, ok := s.db.sessions[id]
	if !ok || session.Status == domain.SessionStatusCompleted {
		return false, nil
	}

	before := cloneSession(session)
	now := s.db.now()
	session.Status = domain.SessionStatusCompleted
	session.Insights = append(json.RawMessage(nil), insights...)
	session.CompletedAt = &now
	session.UpdatedAt = now
	s.record(func() { s.db.sessions[id] = before })
	return true, nil
}

// ListPendingIDs implements store.SessionStore.ListPendingIDs
func (s *SessionStore) ListPendingIDs(_ context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var pending []*domain.FeedbackSession
	for _, session := range s.db.sessions {
		if session.Status == domain.SessionStatusPending && session.CreatedAt.Before(createdBefore) {
			pending = append(pending, session)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]uuid.UUID, 0, min(len(pending), max(limit, 0)))
	for _, session := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, session.ID)
	}
	return ids, nil
}

// ResultStore implements store.ResultStore.
type ResultStore struct{ view }

var _ store.ResultStore = (*ResultStore)(nil)

// CreateBatch implements store.ResultStore.CreateBatch
// References are checked the way the foreign keys of the SQL schema do.
func (s *ResultStore) CreateBatch(_ context.Context, results []*domain.FeedbackResult) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	type pair struct{ session, product, persona uuid.UUID }
	seen := make(map[pair]bool)
	for _, r := range s.db.results {
		seen[pair{r.SessionID, r.ProductID, r.PersonaID}] = true
	}

	for _, r := range results {
		if _, ok := s.db.sessions[r.SessionID]; !ok {
			return fmt.Errorf("%w: unknown session %s", store.ErrInvalidEntity, r.SessionID)
		}
		if _, ok := s.db.personas[r.PersonaID]; !ok {
			return fmt.Errorf("%w: unknown persona %s", store.ErrInvalidEntity, r.PersonaID)
		}
		if _, ok := s.db.products[r.ProductID]; !ok {
			return fmt.Errorf("%w: unknown product %s", store.ErrInvalidEntity, r.ProductID)
		}
		key := pair{r.SessionID, r.ProductID, r.PersonaID}
		if _, ok := s.db.results[r.ID]; ok || seen[key] {
			return store.ErrDuplicate
		}
		seen[key] = true
	}

	for _, r := range results {
		s.db.results[r.ID] = cloneResult(r)
		id := r.ID
		s.record(func() { delete(s.db.results, id) })
	}
	return nil
}

// GetByID implements store.ResultStore.GetByID
func (s *ResultStore) GetByID(_ context.Context, id uuid.UUID) (*domain.FeedbackResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.results[id]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return cloneResult(r), nil
}

// transition applies fn when the stored result is in one of from. Must be
// called with db.mu held.
func (s *ResultStore) transition(id uuid.UUID, fn func(*domain.FeedbackResult), from ...domain.ResultStatus) bool {
	r, ok := s.db.results[id]
	if !ok {
		return false
	}
	for _, status := range from {
		if r.Status == status {
			before := cloneResult(r)
			fn(r)
			r.UpdatedAt = s.db.now()
			s.record(func() { s.db.results[id] = before })
			return true
		}
	}
	return false
}

// MarkInProgress implements store.ResultStore.MarkInProgress
func (s *ResultStore) MarkInProgress(_ context.Context, id uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.transition(id, func(r *domain.FeedbackResult) {
		r.Status = domain.ResultStatusInProgress
		r.ErrorMessage = ""
	}, domain.ClaimableStatuses()...), nil
}

// Complete implements store.ResultStore.Complete
func (s *ResultStore) Complete(_ context.Context, id uuid.UUID, feedback domain.Feedback) (bool, error) {
	if err := feedback.Validate(); err != nil {
		return false, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.transition(id, func(r *domain.FeedbackResult) {
		r.Status = domain.ResultStatusCompleted
		r.Feedback = feedback.Narrative
		r.PurchaseIntent = feedback.PurchaseIntent
		r.Concerns = append([]string(nil), feedback.Concerns...)
		r.ErrorMessage = ""
	}, domain.ResultStatusInProgress), nil
}

// MarkFailed implements store.ResultStore.MarkFailed
func (s *ResultStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.transition(id, func(r *domain.FeedbackResult) {
		r.Status = domain.ResultStatusFailed
		r.ErrorMessage = errMsg
	}, domain.ResultStatusInProgress), nil
}

// CountTerminal implements store.ResultStore.CountTerminal
func (s *ResultStore) CountTerminal(_ context.Context, sessionID uuid.UUID) (store.TerminalCounts, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var c store.TerminalCounts
	for _, r := range s.db.results {
		if r.SessionID != sessionID {
			continue
		}
		switch r.Status {
		case domain.ResultStatusCompleted:
			c.Completed++
		case domain.ResultStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// ListCompleted implements store.ResultStore.ListCompleted
func (s *ResultStore) ListCompleted(_ context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error) {
	return s.list(sessionID, func(r *domain.FeedbackResult) bool {
		return r.Status == domain.ResultStatusCompleted
	}), nil
}

// ListBySession implements store.ResultStore.ListBySession
func (s *ResultStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*domain.FeedbackResult, error) {
	return s.list(sessionID, func(*domain.FeedbackResult) bool { return true }), nil
}

func (s *ResultStore) list(sessionID uuid.UUID, keep func(*domain.FeedbackResult) bool) []*domain.FeedbackResult {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []*domain.FeedbackResult
	for _, r := range s.db.results {
		if r.SessionID == sessionID && keep(r) {
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
