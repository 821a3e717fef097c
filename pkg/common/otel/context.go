package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID stands in when a log line is emitted outside any span, so the
// trace_id field is always present and greppable.
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID extracts the active trace id from the context for log
// correlation.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}
