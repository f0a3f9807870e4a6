package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.BatchID != "" {
		logger = logger.With().Str("batch_id", tc.BatchID).Logger()
	}
	if tc.Source != "" {
		logger = logger.With().Str("source", tc.Source).Logger()
	}
	if tc.RequestID != "" {
		logger = logger.With().Str("request_id", tc.RequestID).Logger()
	}
	if callID := GetCallID(ctx); callID != "" {
		logger = logger.With().Str("call_id", callID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying the same tracing values.
// Used when work outlives the request that scheduled it.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
