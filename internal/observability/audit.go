package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/cron"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Namespace string                 `json:"namespace,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   io.Closer
}

// NewAuditLogger opens path for appending, creating parent directories.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// NewAuditLoggerWriter writes audit events to w. Close does not close w.
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Record writes event. The trace id comes from the active span, or from the
// tracing context when there is no span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.namespace", event.Namespace),
		))
	} else if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Namespace != "" {
		entry.Str("namespace", event.Namespace)
	}
	if event.Error != "" {
		entry.Str("error", event.Error)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit file, if any.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordProxyEvent audits everything except successful dispatches.
func (a *AuditLogger) RecordProxyEvent(event commandqueue.Event) {
	if event.Type == commandqueue.EventDispatched {
		return
	}

	status := "success"
	switch event.Type {
	case commandqueue.EventFailed, commandqueue.EventDropped:
		status = "failure"
	case commandqueue.EventDeprecated:
		status = "warning"
	}

	audit := AuditEvent{
		Type:      "tracker",
		Namespace: event.Namespace,
		Action:    event.Type,
		Status:    status,
		Metadata:  event.Data,
	}
	if event.Operation != "" {
		audit.Action = event.Type + ":" + event.Operation
	}
	if event.Err != nil {
		audit.Error = event.Err.Error()
	}

	a.Record(context.Background(), audit)
}

// RecordScheduleEvent audits job lifecycle changes. Pushes are left to
// metrics.
func (a *AuditLogger) RecordScheduleEvent(event cron.Event) {
	if event.Action == cron.EventActionPushed {
		return
	}

	metadata := map[string]interface{}{
		"job_id": event.JobID,
		"name":   event.Name,
	}
	if event.NextRunAtMs != nil {
		metadata["next_run_at_ms"] = *event.NextRunAtMs
	}

	a.Record(context.Background(), AuditEvent{
		Type:     "schedule",
		Action:   string(event.Action),
		Status:   "success",
		Metadata: metadata,
	})
}
