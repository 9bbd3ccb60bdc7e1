package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/penguiflow/penguiflow"
)

func newTestTracer() (*Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return &Tracer{tracer: tp.Tracer("test"), spans: make(map[spanKey]trace.Span)}, sr
}

func TestTracerOpensAndClosesSpanOnSuccess(t *testing.T) {
	tr, sr := newTestTracer()

	tr.OnEvent(penguiflow.FlowEvent{EventType: penguiflow.EventNodeStart, TraceID: "t1", NodeName: "a", Attempt: 1})
	require.Empty(t, sr.Ended())

	tr.OnEvent(penguiflow.FlowEvent{EventType: penguiflow.EventNodeSuccess, TraceID: "t1", NodeName: "a", Attempt: 1})
	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "a", ended[0].Name())
}

func TestTracerEndsSpanWithErrorStatusOnFailure(t *testing.T) {
	tr, sr := newTestTracer()

	tr.OnEvent(penguiflow.FlowEvent{EventType: penguiflow.EventNodeStart, TraceID: "t2", NodeName: "b", Attempt: 1})
	tr.OnEvent(penguiflow.FlowEvent{
		EventType: penguiflow.EventNodeFailed,
		TraceID:   "t2",
		NodeName:  "b",
		Attempt:   1,
		Extra:     map[string]any{"error": "NODE_FAILED: boom"},
	})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "b", ended[0].Name())
}

func TestTracerIgnoresEndEventWithNoMatchingStart(t *testing.T) {
	tr, sr := newTestTracer()

	tr.OnEvent(penguiflow.FlowEvent{EventType: penguiflow.EventNodeSuccess, TraceID: "unknown", NodeName: "x", Attempt: 1})
	assert.Empty(t, sr.Ended())
}

func TestOnEventReturnsEventUnchanged(t *testing.T) {
	tr, _ := newTestTracer()
	ev := penguiflow.FlowEvent{EventType: penguiflow.EventNodeStart, NodeName: "a"}
	got := tr.OnEvent(ev)
	assert.Equal(t, ev, got)
}
