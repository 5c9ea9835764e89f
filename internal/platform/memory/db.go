package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
)

// DB holds the entity tables shared by every store view.
type DB struct {
	mu       sync.Mutex
	personas map[uuid.UUID]*domain.Persona
	products map[uuid.UUID]*domain.Product
	sessions map[uuid.UUID]*domain.FeedbackSession
	results  map[uuid.UUID]*domain.FeedbackResult

	// txMu serializes units of work.
	txMu sync.Mutex

	// tasks receives the tasks published by committed units of work.
	tasks           *TaskStore
	taskMaxAttempts int

	logger *slog.Logger
	now    func() time.Time
}

// NewDB creates an empty DB.
func NewDB(logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		personas: make(map[uuid.UUID]*domain.Persona),
		products: make(map[uuid.UUID]*domain.Product),
		sessions: make(map[uuid.UUID]*domain.FeedbackSession),
		results:  make(map[uuid.UUID]*domain.FeedbackResult),
		logger:   logger.With(slog.String("component", "memory_db")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTasks makes units of work publish their outbox tasks to ts on
// commit. Without it, units of work hand out no Outbox.
func (db *DB) WithTasks(ts *TaskStore, maxAttempts int) *DB {
	db.tasks = ts
	db.taskMaxAttempts = maxAttempts
	return db
}

// view is a set of stores over a DB. Views created by a unit of work record
// an undo step for every write.
type view struct {
	db   *DB
	undo *[]func()
}

// record must be called with db.mu held.
func (v view) record(fn func()) {
	if v.undo != nil {
		*v.undo = append(*v.undo, fn)
	}
}

func clonePersona(p *domain.Persona) *domain.Persona {
	c := *p
	c.Psychographics.Values = append([]string(nil), p.Psychographics.Values...)
	c.Psychographics.Interests = append([]string(nil), p.Psychographics.Interests...)
	c.Psychographics.PersonalityTraits = append([]string(nil), p.Psychographics.PersonalityTraits...)
	if p.GenerationStartedAt != nil {
		t := *p.GenerationStartedAt
		c.GenerationStartedAt = &t
	}
	return &c
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	if p.Attributes != nil {
		c.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

func cloneSession(s *domain.FeedbackSession) *domain.FeedbackSession {
	c := *s
	c.Insights = append([]byte(nil), s.Insights...)
	if len(c.Insights) == 0 {
		c.Insights = nil
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneResult(r *domain.FeedbackResult) *domain.FeedbackResult {
	c := *r
	c.Concerns = append([]string(nil), r.Concerns...)
	if len(c.Concerns) == 0 {
		c.Concerns = nil
	}
	return &c
}
