package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuthGuard semantic convention attributes.
var (
	// Event attributes
	AttrEventID = attribute.Key("authguard.event.id")
	AttrSource  = attribute.Key("authguard.event.source")
	AttrOutcome = attribute.Key("authguard.event.outcome")

	// Detection attributes
	AttrEntity    = attribute.Key("authguard.entity")
	AttrRule      = attribute.Key("authguard.rule")
	AttrRiskScore = attribute.Key("authguard.risk_score")

	// Decision and enforcement attributes
	AttrDecision     = attribute.Key("authguard.decision")
	AttrMode         = attribute.Key("authguard.mode")
	AttrEnforcerOK   = attribute.Key("authguard.enforcer.available")
	AttrAlertOutcome = attribute.Key("authguard.alert.outcome")
)

// IngestOperation creates attributes for event ingestion spans.
func IngestOperation(eventID, source, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventID.String(eventID),
		AttrSource.String(source),
		AttrOutcome.String(outcome),
	}
}

// DecisionOperation creates attributes for decision spans.
func DecisionOperation(entity, decision string, risk float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntity.String(entity),
		AttrDecision.String(decision),
		AttrRiskScore.Float64(risk),
	}
}

// EnforcementOperation creates attributes for enforcement bridge spans.
func EnforcementOperation(entity, mode string, available bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntity.String(entity),
		AttrMode.String(mode),
		AttrEnforcerOK.Bool(available),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
