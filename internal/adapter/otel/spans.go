package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "missioncontrol"

// StartTransitionSpan starts a span for a task status transition.
func StartTransitionSpan(ctx context.Context, taskID, from, to string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.transition",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.status.from", from),
			attribute.String("task.status.to", to),
		),
	)
}

// StartDispatchSpan starts a span for one dispatch attempt.
func StartDispatchSpan(ctx context.Context, taskID, agentID, workspaceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
			attribute.String("workspace.id", workspaceID),
		),
	)
}

// StartGatewaySpan starts a span around a Gateway API call.
func StartGatewaySpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
