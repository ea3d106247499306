package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/stretchr/testify/assert"
)

func TestFromContextOrDefault(t *testing.T) {
	defaultLogger := slog.Default()
	customLogger := slog.New(slog.NewTextHandler(nil, nil))

	tests := []struct {
		name     string
		ctx      context.Context
		expected *slog.Logger
	}{
		{
			name:     "nil_context_returns_default",
			ctx:      nil,
			expected: defaultLogger,
		},
		{
			name:     "context_without_logger_returns_default",
			ctx:      context.Background(),
			expected: defaultLogger,
		},
		{
			name:     "context_with_logger_returns_context_logger",
			ctx:      logger.WithLogger(context.Background(), customLogger),
			expected: customLogger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.FromContextOrDefault(tt.ctx, defaultLogger)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFromContextOrDefaultNilFallback(t *testing.T) {
	// With no context logger and no fallback, the global default wins.
	result := logger.FromContextOrDefault(context.Background(), nil)
	assert.Equal(t, slog.Default(), result)
}

func TestWithLogger(t *testing.T) {
	t.Run("valid_logger", func(t *testing.T) {
		customLogger := slog.New(slog.NewTextHandler(nil, nil))
		ctx := logger.WithLogger(context.Background(), customLogger)

		// Verify the logger was stored in the context
		retrievedLogger := logger.FromContext(ctx)
		assert.Equal(t, customLogger, retrievedLogger)
	})

	t.Run("nil_logger_falls_back_to_default", func(t *testing.T) {
		ctx := logger.WithLogger(context.Background(), nil)

		// A nil logger in the context is treated as absent
		retrievedLogger := logger.FromContext(ctx)
		assert.Equal(t, slog.Default(), retrievedLogger)
	})
}

func TestFromContextNilContext(t *testing.T) {
	//nolint:staticcheck // passing a nil context is the case under test
	assert.Equal(t, slog.Default(), logger.FromContext(nil))
}
