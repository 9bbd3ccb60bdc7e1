// Package telemetry bridges the FlowEvent stream to OpenTelemetry spans,
// one span per node invocation (node_start..node_success/node_failed). Each
// span is keyed by (trace id, node name, attempt) so retries of the same
// envelope open and close distinct spans rather than being folded together.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/penguiflow/penguiflow"
)

// Tracer implements penguiflow.Middleware, opening one span per
// (TraceID, NodeName, Attempt) on node_start (first attempt) or node_retry
// (next attempt) and closing it on the matching node_retry, node_success,
// node_error, node_failed or validation_error event.
type Tracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[spanKey]trace.Span
}

type spanKey struct {
	traceID  string
	nodeName string
	attempt  int
}

// NewTracer builds a Tracer using the OTel global tracer provider under the
// given instrumentation name (typically the module path of the calling
// application).
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(instrumentationName),
		spans:  make(map[spanKey]trace.Span),
	}
}

// OnEvent implements penguiflow.Middleware.
func (t *Tracer) OnEvent(ev penguiflow.FlowEvent) penguiflow.FlowEvent {
	switch ev.EventType {
	case penguiflow.EventNodeStart, penguiflow.EventNodeRetry:
		attempt := ev.Attempt
		if ev.EventType == penguiflow.EventNodeRetry {
			// node_start precedes only the first attempt; a retry closes the
			// failed attempt's span and opens the next attempt's.
			t.endSpan(ev, codes.Error, "")
			attempt++
		}
		_, span := t.tracer.Start(context.Background(), ev.NodeName,
			trace.WithAttributes(
				attribute.String("penguiflow.trace_id", ev.TraceID),
				attribute.String("penguiflow.node", ev.NodeName),
				attribute.Int("penguiflow.attempt", attempt),
			),
		)
		t.mu.Lock()
		t.spans[spanKey{traceID: ev.TraceID, nodeName: ev.NodeName, attempt: attempt}] = span
		t.mu.Unlock()

	case penguiflow.EventNodeSuccess:
		t.endSpan(ev, codes.Ok, "")

	case penguiflow.EventNodeError, penguiflow.EventNodeFailed, penguiflow.EventValidationError:
		msg := ""
		if v, ok := ev.Extra["error"]; ok {
			if s, ok := v.(string); ok {
				msg = s
			}
		}
		t.endSpan(ev, codes.Error, msg)
	}
	return ev
}

func spanKeyFor(ev penguiflow.FlowEvent) spanKey {
	return spanKey{traceID: ev.TraceID, nodeName: ev.NodeName, attempt: ev.Attempt}
}

func (t *Tracer) endSpan(ev penguiflow.FlowEvent, code codes.Code, message string) {
	key := spanKeyFor(ev)
	t.mu.Lock()
	span, ok := t.spans[key]
	if ok {
		delete(t.spans, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	span.SetStatus(code, message)
	span.End()
}
