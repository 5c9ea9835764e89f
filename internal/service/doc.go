// Package service contains the application operations that sit between the
// HTTP API, the background task handlers and the stores.
//
// SubmissionService validates and persists persona, product and session
// requests and enqueues the generation tasks that fulfil them. It never
// waits on a provider call; every request returns as soon as its records
// and tasks are durable.
//
// CompletionCoordinator decides when a feedback session is finished. It is
// invoked whenever a result reaches a terminal status, serialises the check
// per session behind a lock, aggregates the results into session insights
// and flips the session to COMPLETED with a conditional update, so a
// session completes exactly once no matter how many results finish
// concurrently. CompletionSweeper periodically re-runs the check for
// sessions whose last trigger was lost.
//
// Store errors are translated to the sentinels in errors.go, which the API
// layer maps to HTTP status codes.
package service
