package observe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for candor spans.
const tracerName = "github.com/candorvoice/candor"

type ctxKey int

const correlationIDKey ctxKey = iota

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a named span on the application tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithCorrelationID returns a context carrying a new correlation id, or the
// existing one if the context already has it.
func WithCorrelationID(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, correlationIDKey, id), id
}

// CorrelationID returns the correlation id stored in ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// Logger returns the default slog logger annotated with the context's
// correlation id, if present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := CorrelationID(ctx); id != "" {
		l = l.With(slog.String("correlation_id", id))
	}
	return l
}
