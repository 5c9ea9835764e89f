package memory

import (
	"context"
	"log/slog"

	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// Stores returns stores that write straight to db.
func (db *DB) Stores() store.Stores {
	return db.stores(view{db: db})
}

func (db *DB) stores(v view) store.Stores {
	return store.Stores{
		Personas: &PersonaStore{v},
		Products: &ProductStore{v},
		Sessions: &SessionStore{v},
		Results:  &ResultStore{v},
	}
}

var _ store.UnitOfWork = (*DB)(nil)

// Do implements store.UnitOfWork. Units of work run one at a time; a
// failed or panicking fn has its writes undone in reverse order and its
// outbox tasks dropped.
func (db *DB) Do(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) (err error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	var undo []func()
	rollback := func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	stores := db.stores(view{db: db, undo: &undo})
	var outbox *stagedOutbox
	if db.tasks != nil {
		outbox = &stagedOutbox{maxAttempts: db.taskMaxAttempts}
		stores.Outbox = outbox
	}

	if err = fn(ctx, stores); err == nil && outbox != nil {
		err = db.tasks.enqueueAll(outbox.staged)
	}
	if err != nil {
		rollback()
		logger.FromContextOrDefault(ctx, db.logger).Debug("unit of work rolled back",
			slog.Int("writes", len(undo)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// stagedOutbox holds published tasks until the unit of work commits.
type stagedOutbox struct {
	maxAttempts int
	staged      []*task.Task
}

// Publish implements store.Outbox.
func (o *stagedOutbox) Publish(_ context.Context, taskType string, payload any) error {
	t, err := task.NewTask(taskType, payload, o.maxAttempts)
	if err != nil {
		return err
	}
	o.staged = append(o.staged, t)
	return nil
}
