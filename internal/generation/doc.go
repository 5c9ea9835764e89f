// Package generation defines the boundary between the pipeline and the
// external LLM services: the generator interfaces workers depend on, the
// request and response shapes they exchange, the supported output
// languages, and the GatewayError that tells callers whether a failure is
// worth retrying.
package generation
