// Package memory keeps every record in process. It backs the "memory"
// database driver used for local runs and for tests that exercise the
// workers end to end without PostgreSQL.
//
// The stores mirror the conditional writes of the postgres package so
// callers observe the same state machine on either backend.
package memory
