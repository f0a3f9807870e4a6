package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the process-wide tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes a process-wide OpenTelemetry tracer provider.
// It is safe to call multiple times; only the first call takes effect.
func InitOpenTelemetry(cfg Config) error {
	providerOnce.Do(func() {
		attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
		if cfg.ServiceVersion != "" {
			attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
		}

		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			providerErr = err
			return
		}

		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and mirrors its trace ID into the tracing context
// when the context does not carry one yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
