package store

import "context"

// Stores bundles the stores bound to one transaction.
type Stores struct {
	Personas PersonaStore
	Products ProductStore
	Sessions SessionStore
	Results  ResultStore

	// Outbox is set only for stores handed out by a UnitOfWork. Tasks
	// published through it become claimable when the unit of work commits
	// and are discarded with it on rollback.
	Outbox Outbox
}

// Outbox publishes tasks as part of a unit of work.
type Outbox interface {
	Publish(ctx context.Context, taskType string, payload any) error
}

// UnitOfWork runs fn atomically. If fn returns an error every write made
// through the Stores it received is discarded.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// UnitOfWorkFunc adapts a function to the UnitOfWork interface.
type UnitOfWorkFunc func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

// Do calls f(ctx, fn).
func (f UnitOfWorkFunc) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return f(ctx, fn)
}
