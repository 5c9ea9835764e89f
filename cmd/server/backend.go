package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/personasim/internal/api"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/lock"
	"github.com/phrazzld/personasim/internal/platform/memory"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/phrazzld/personasim/internal/store"
	"github.com/phrazzld/personasim/internal/task"
)

// backend bundles the storage-dependent collaborators of one driver.
type backend struct {
	uow    store.UnitOfWork
	stores store.Stores
	tasks  task.TaskStore
	locker lock.Locker
	health api.HealthCheck
	close  func() error
}

// openBackend connects the driver named in cfg. The memory driver keeps
// everything in process and only suits a single instance. Tasks published
// from units of work get taskMaxAttempts attempts.
func openBackend(ctx context.Context, cfg config.DatabaseConfig, taskMaxAttempts int, log *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage; data is lost on exit")
		tasks := memory.NewTaskStore(log)
		db := memory.NewDB(log).WithTasks(tasks, taskMaxAttempts)
		return &backend{
			uow:    db,
			stores: db.Stores(),
			tasks:  tasks,
			locker: lock.NewLocalLocker(),
			close:  func() error { return nil },
		}, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			uow:    postgres.NewUnitOfWork(db, taskMaxAttempts, log),
			stores: postgres.NewStores(db, log),
			tasks:  postgres.NewPostgresTaskStore(db, log),
			locker: postgres.NewAdvisoryLocker(db, log),
			health: db.PingContext,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
