package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// BatchIDKey is the context key for the push batch ID
	BatchIDKey ContextKey = "batch_id"
	// SourceKey is the context key for the origin of a push (buffer, http, ws, cron, stdin)
	SourceKey ContextKey = "source"
	// RequestIDKey is the context key for request ID (for idempotency)
	RequestIDKey ContextKey = "request_id"
	// CallIDKey is the context key for one dispatched call, shared by every
	// tracker the call fans out to
	CallIDKey ContextKey = "call_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	BatchID   string
	Source    string
	RequestID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewBatchID generates a short ID for one push batch.
func NewBatchID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// NewCallID generates a short ID for one dispatched call.
func NewCallID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithCallID tags the context with the call being dispatched
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, CallIDKey, callID)
}

// GetCallID retrieves the dispatched call ID from the context
func GetCallID(ctx context.Context) string {
	if callID, ok := ctx.Value(CallIDKey).(string); ok {
		return callID
	}
	return ""
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithBatchID adds a batch ID to the context
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

// WithSource records where a push came from
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// WithRequestID adds a request ID to the context for idempotency
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetBatchID retrieves the batch ID from the context
func GetBatchID(ctx context.Context) string {
	if batchID, ok := ctx.Value(BatchIDKey).(string); ok {
		return batchID
	}
	return ""
}

// GetSource retrieves the push source from the context
func GetSource(ctx context.Context) string {
	if source, ok := ctx.Value(SourceKey).(string); ok {
		return source
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		BatchID:   GetBatchID(ctx),
		Source:    GetSource(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.BatchID != "" {
		ctx = WithBatchID(ctx, tc.BatchID)
	}
	if tc.Source != "" {
		ctx = WithSource(ctx, tc.Source)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	return ctx
}

// NewPushContext creates a context for one push batch from the given source.
// An existing trace ID is kept; a fresh batch ID is always assigned.
func NewPushContext(ctx context.Context, source string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithBatchID(ctx, NewBatchID())
	if source != "" {
		ctx = WithSource(ctx, source)
	}
	return ctx
}
