package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const monitorTracerName = "execwatch-monitor"

// TraceExecutionOp creates a span for a monitor operation on an execution.
func TraceExecutionOp(ctx context.Context, op, executionID string) (context.Context, trace.Span) {
	ctx, span := Tracer(monitorTracerName).Start(ctx, "execution."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if executionID != "" {
		span.SetAttributes(attribute.String("execution_id", executionID))
	}
	return ctx, span
}
