// Package transport defines the service contract between the HTTP layer and
// the activity workflow, plus the middleware chain wrapped around every
// operation.
//
// # Handler Interfaces
//
// ActivityService is the set of operations exposed to tutors: create,
// redeploy, chat, chat history and fetch. *activity.Workflow implements it.
//
// Each service call is dispatched through a Handler as a named Operation.
// Middleware wraps the Handler with cross-cutting concerns: panic
// recovery, request ID assignment (X-Request-ID) and structured logging via
// log/slog.
//
// # Errors
//
// ErrorFrom maps workflow errors onto api.APIError values and WriteAPIError
// serializes them in the {"error": {...}} envelope with the matching status.
//
// # In-flight operations
//
// InFlightRegistry serializes mutating operations per activity, so a chat
// turn and a redeploy cannot race for the same sandbox.
package transport
