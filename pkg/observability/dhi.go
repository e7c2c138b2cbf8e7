package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// dhi-specific semantic convention attributes.
var (
	AttrRequestID   = attribute.Key("dhi.request.id")
	AttrCandidateID = attribute.Key("dhi.candidate.id")
	AttrAttempt     = attribute.Key("dhi.attempt")

	AttrStageName  = attribute.Key("dhi.stage.name")
	AttrStageExit  = attribute.Key("dhi.stage.exit_code")
	AttrFailureCls = attribute.Key("dhi.failure_class")
	AttrTier       = attribute.Key("dhi.tier")

	AttrViolationCode = attribute.Key("dhi.policy.violation_code")
	AttrTerminalEvent = attribute.Key("dhi.terminal_event")
)

// AttemptOperation builds the attributes recorded around one verification
// attempt's sandbox run.
func AttemptOperation(requestID, candidateID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrCandidateID.String(candidateID),
		AttrAttempt.Int(attempt),
	}
}

// StageOperation builds the attributes recorded for a single sandbox stage
// outcome within an attempt.
func StageOperation(stage string, exitCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStageName.String(stage),
		AttrStageExit.Int(exitCode),
	}
}

// VerificationOutcome builds the attributes recorded once an attempt's
// failure class and tier have been classified.
func VerificationOutcome(failureClass, tier string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrFailureCls.String(failureClass),
		AttrTier.String(tier),
	}
}

// PolicyViolation builds the attributes recorded when the sandbox policy
// enforcer halts a run.
func PolicyViolation(code string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrViolationCode.String(code)}
}

// SpanFromContext extracts the active span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds a named event to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the active span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
