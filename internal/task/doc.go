// Package task manages background job queuing, processing, and lifecycle.
//
// Tasks are persisted through a TaskStore and claimed by a TaskRunner with a
// visibility timeout, so delivery is at-least-once: a task whose worker
// crashes is claimed again once its lock expires. Handlers must therefore be
// idempotent. Failed tasks are retried with backoff until their attempts run
// out, then moved to the "<type>.dlq" queue where an optional per-type hook
// runs and an operator can inspect or requeue them.
//
// The package also holds the three pipeline handlers: persona generation,
// persona batch expansion and feedback generation.
package task
