package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// Recovery returns middleware that converts a panic in an operation into
// a server error. The server keeps accepting requests.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, name string, op Operation) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("operation panicked", "operation", name, "panic", r, "stack", string(debug.Stack()))
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Handle(ctx, name, op)
		})
	}
}
