package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const approvalTracerName = "execwatch-approval"

func approvalTracer() trace.Tracer {
	return Tracer(approvalTracerName)
}

// TraceToolAction creates a span for a user or automatic action on a tool call.
func TraceToolAction(ctx context.Context, action, toolCallID, server string) (context.Context, trace.Span) {
	ctx, span := approvalTracer().Start(ctx, "tool."+action,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("tool_call_id", toolCallID),
		attribute.String("mcp_server", server),
	)
	return ctx, span
}

// TraceToolInvocation creates a span for a tool invocation against a provider.
func TraceToolInvocation(ctx context.Context, server, toolName string) (context.Context, trace.Span) {
	ctx, span := approvalTracer().Start(ctx, "tool.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("mcp_server", server),
		attribute.String("tool_name", toolName),
	)
	return ctx, span
}

// TraceResume creates a span for a workflow resume or denial notice.
func TraceResume(ctx context.Context, kind, threadID string) (context.Context, trace.Span) {
	ctx, span := approvalTracer().Start(ctx, "workflow."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("thread_id", threadID))
	return ctx, span
}

// TraceResult records the outcome of an operation on its span.
func TraceResult(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
