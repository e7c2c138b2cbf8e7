package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "dhi", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderWithDisabledConfigReturnsProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	attrs := AttemptOperation("req-1", "cand-1", 1)

	newCtx, finish := p.TrackOperation(ctx, "verification.attempt", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "verification.attempt.error")
	finish(errors.New("deterministic failure"))
}

func TestRecordMetrics(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	newCtx, span := p.StartSpan(context.Background(), "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Shutdown(ctx))
}

func TestAttemptOperation(t *testing.T) {
	attrs := AttemptOperation("req-1", "cand-1", 2)
	require.Len(t, attrs, 3)
	require.Equal(t, "dhi.request.id", string(attrs[0].Key))
	require.Equal(t, "req-1", attrs[0].Value.AsString())
	require.Equal(t, int64(2), attrs[2].Value.AsInt64())
}

func TestStageOperation(t *testing.T) {
	attrs := StageOperation("unit_tests", 1)
	require.Len(t, attrs, 2)
	require.Equal(t, "unit_tests", attrs[0].Value.AsString())
	require.Equal(t, int64(1), attrs[1].Value.AsInt64())
}

func TestVerificationOutcome(t *testing.T) {
	attrs := VerificationOutcome("syntax", "none")
	require.Len(t, attrs, 2)
	require.Equal(t, "syntax", attrs[0].Value.AsString())
}

func TestPolicyViolation(t *testing.T) {
	attrs := PolicyViolation("NetworkAccessViolation")
	require.Len(t, attrs, 1)
	require.Equal(t, "NetworkAccessViolation", attrs[0].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	SetSpanStatus(context.Background(), errors.New("test error"))
	SetSpanStatus(context.Background(), nil)
}
