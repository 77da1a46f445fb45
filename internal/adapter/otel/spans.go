package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "feedbacksync"

// StartSyncRunSpan starts the span of one orchestrator invocation.
func StartSyncRunSpan(ctx context.Context, runID, integrationID, providerType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("sync.run_id", runID),
			attribute.String("integration.id", integrationID),
			attribute.String("integration.type", providerType),
		),
	)
}

// StartSyncPhaseSpan starts a child span for the outbound or inbound phase.
func StartSyncPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.phase."+phase,
		trace.WithAttributes(attribute.String("sync.phase", phase)),
	)
}
