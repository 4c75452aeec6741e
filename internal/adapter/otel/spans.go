package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "confirmd"

// StartTimeoutCheckSpan starts a span for one timeout classification.
func StartTimeoutCheckSpan(ctx context.Context, confirmID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "timeout.check",
		trace.WithAttributes(
			attribute.String("confirm.id", confirmID),
		),
	)
}

// StartEscalationSpan starts a span for triggering or advancing an escalation.
func StartEscalationSpan(ctx context.Context, confirmID, ruleID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "escalation",
		trace.WithAttributes(
			attribute.String("confirm.id", confirmID),
			attribute.String("rule.id", ruleID),
		),
	)
}

// StartAutomationSpan starts a span for one automated decision evaluation.
func StartAutomationSpan(ctx context.Context, confirmID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "automation.evaluate",
		trace.WithAttributes(
			attribute.String("confirm.id", confirmID),
		),
	)
}

// StartEmitSpan starts a span for one event emission through the manager.
func StartEmitSpan(ctx context.Context, eventType, confirmID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "event.emit",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("confirm.id", confirmID),
		),
	)
}
