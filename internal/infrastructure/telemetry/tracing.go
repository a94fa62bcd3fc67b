package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used for dispatch spans
const TracerName = "leadflow-backend/dispatch"

// Span attribute keys shared by dispatch spans and the HTTP middleware
const (
	SpanAttrLeadID      = "lead_id"
	SpanAttrBatchID     = "batch_id"
	SpanAttrUnitID      = "unit_id"
	SpanAttrTrigger     = "trigger"
	SpanAttrAttempt     = "attempt"
	SpanAttrUnitMode    = "unit_mode"
	SpanAttrChannelType = "channel_type"
	SpanAttrHTTPCode    = "http_code"
	SpanAttrOutcome     = "outcome"
	SpanAttrUnitCount   = "unit_count"
)

// UnitSpan describes one delivery attempt
type UnitSpan struct {
	UnitID      string
	BatchID     string
	ChannelType string
	Attempt     int
	Mode        string
}

// StartUnitSpan opens dispatch.run_unit for one attempt of a unit.
func StartUnitSpan(ctx context.Context, u UnitSpan) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "dispatch.run_unit",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(SpanAttrUnitID, u.UnitID),
			attribute.String(SpanAttrBatchID, u.BatchID),
			attribute.String(SpanAttrChannelType, u.ChannelType),
			attribute.Int(SpanAttrAttempt, u.Attempt),
			attribute.String(SpanAttrUnitMode, u.Mode),
		),
	)
}

// StartBatchSpan opens dispatch.create_batch for the fan-out of one lead.
func StartBatchSpan(ctx context.Context, leadID, trigger string, units int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "dispatch.create_batch",
		trace.WithAttributes(
			attribute.String(SpanAttrLeadID, leadID),
			attribute.String(SpanAttrTrigger, trigger),
			attribute.Int(SpanAttrUnitCount, units),
		),
	)
}

// RecordUnitResult tags the span with the outcome of a delivery attempt.
// httpCode is ignored when zero. A failed attempt adds a unit_failed event.
func RecordUnitResult(span trace.Span, succeeded bool, httpCode int, message string) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	span.SetAttributes(attribute.String(SpanAttrOutcome, outcome))
	if httpCode != 0 {
		span.SetAttributes(attribute.Int(SpanAttrHTTPCode, httpCode))
	}
	if !succeeded {
		span.AddEvent("unit_failed", trace.WithAttributes(attribute.String("message", message)))
	}
}

// RecordError records err on the span and marks it failed. Nil err is a no-op.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
