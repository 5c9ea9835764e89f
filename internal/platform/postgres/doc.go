// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package, the durable task
// queue used by internal/task, and an advisory-lock based lock provider.
//
// Schema changes live in migrations/ as goose SQL files and are embedded in
// the binary; see Migrate.
package postgres
