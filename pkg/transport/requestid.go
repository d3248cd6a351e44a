package transport

import (
	"context"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// RequestID returns middleware that makes sure every operation runs with a
// request ID. An ID already in the context (set by the HTTP adapter from
// the X-Request-ID header) is kept.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, name string, op Operation) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, api.NewID())
			}
			return next.Handle(ctx, name, op)
		})
	}
}
