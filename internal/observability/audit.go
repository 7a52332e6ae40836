package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// AuditEvent emits a structured audit record. Outcome is one of
// success/failure/rejected; reason is a stable machine-readable token.
// When the request carries an active span, the trace id is attached so
// audit lines can be joined with traces.
func AuditEvent(ctx context.Context, eventName, outcome, reason string, attrs ...any) {
	base := []any{
		"event_name", eventName,
		"outcome", outcome,
		"reason", reason,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit.event", base...)
}
