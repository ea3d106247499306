package logger

import (
	"context"
	"log/slog"
)

// loggerContextKey is an unexported type used as the context key for
// the logger, preventing collisions with keys from other packages.
type loggerContextKey struct{}

// WithLogger returns a new context carrying the given logger. Handlers
// and background loops attach request- or job-scoped loggers here so
// lower layers can log with the same correlation attributes.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, log)
}

// FromContext retrieves the logger stored in the context, falling back
// to slog.Default when none is present. It never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	return slog.Default()
}

// FromContextOrDefault retrieves the logger stored in the context,
// falling back to the given logger instead of the global default.
// Components with their own configured logger use this so context
// loggers win when present.
func FromContextOrDefault(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// requestIDContextKey is an unexported type used as the context key for
// request correlation IDs.
type requestIDContextKey struct{}

// WithRequestID returns a new context carrying a correlation ID used to
// tie together log records from a single request or test run.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the correlation ID stored in the
// context, returning the empty string when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}
