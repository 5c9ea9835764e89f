// Package logger configures the process-wide slog JSON logger and carries
// request and task scoped loggers through context.Context. Components
// derive their own logger with a "component" attribute; handlers attach
// identifiers such as task_id or trace_id before calling into services.
package logger
