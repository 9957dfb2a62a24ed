package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(Config{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan_WithoutProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	span.End()
}

func TestTraceRoute_RecordsAttributes(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceRoute(context.Background(), 7, "high", "message", 42)
	AddSpanAttributes(ctx, OutcomeKey.String("enqueued"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "router.route", ended[0].Name())

	attrs := ended[0].Attributes()
	v, ok := attrValue(attrs, ConnectionIDKey)
	require.True(t, ok)
	assert.Equal(t, int64(7), v.AsInt64())
	v, ok = attrValue(attrs, PriorityKey)
	require.True(t, ok)
	assert.Equal(t, "high", v.AsString())
	v, ok = attrValue(attrs, OutcomeKey)
	require.True(t, ok)
	assert.Equal(t, "enqueued", v.AsString())
}

func TestRecordError_SetsStatus(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceRelay(context.Background(), "alice", "bob")
	RecordError(ctx, errors.New("handoff timed out"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "relay.session", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)
}

func TestTraceHTTPRequest(t *testing.T) {
	rec := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/v1/connections")
	span.End()

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "http.GET", rec.Ended()[0].Name())
}
