package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope for every NavAssist span.
const scope = "github.com/MrWong99/navassist"

// StartSpan starts a span on the global tracer provider. Callers end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, opts...)
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" when ctx
// carries no valid span. HTTP clients see it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// WithTrace returns l annotated with trace_id and span_id from ctx. l is
// returned unchanged when ctx has no span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// Logger is WithTrace applied to the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return WithTrace(ctx, slog.Default())
}
