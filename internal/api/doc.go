// Package api is the HTTP surface of the service. It authenticates owners,
// validates requests and hands them to the submission service, translating
// service errors into status codes without leaking internal details.
package api
