// Package events provides types and interfaces for in-process domain events.
//
// Producers emit events without knowing which handlers consume them. The
// feedback worker emits a ResultTerminal event whenever a result reaches
// COMPLETED or FAILED, and the session completion coordinator handles it.
//
// The primary components are:
// - Event: a typed envelope with a JSON payload
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
