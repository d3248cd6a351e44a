package transport

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that emits one structured log entry per
// operation with its name, request ID, duration and error.
//
// HTTP status codes are not visible at this level; the adapter's metrics
// middleware records them.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, name string, op Operation) error {
			start := time.Now()
			err := next.Handle(ctx, name, op)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("operation", name),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "operation failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "operation completed", attrs...)
			}
			return err
		})
	}
}
