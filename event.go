package penguiflow

import "time"

// EventType is the closed set of FlowEvent kinds emitted by the runtime.
type EventType string

const (
	EventNodeStart         EventType = "node_start"
	EventNodeSuccess       EventType = "node_success"
	EventNodeError         EventType = "node_error"
	EventNodeRetry         EventType = "node_retry"
	EventNodeFailed        EventType = "node_failed"
	EventEmit              EventType = "emit"
	EventFetch             EventType = "fetch"
	EventStreamChunk       EventType = "stream_chunk"
	EventTraceCancelStart  EventType = "trace_cancel_start"
	EventTraceCancelFinish EventType = "trace_cancel_finish"
	EventDeadlineSkip      EventType = "deadline_skip"
	EventValidationError   EventType = "validation_error"
)

// FlowEvent is the immutable structured observation emitted by the runtime
// at every lifecycle point: node start/success/error/retry/failed, emit,
// fetch, stream chunks, and trace cancellation. It carries queue depths and
// per-trace accounting alongside the lifecycle identity fields so a
// middleware can derive backpressure and fan-out metrics without querying
// the runtime directly.
type FlowEvent struct {
	EventType EventType
	Ts        time.Time
	NodeName  string
	NodeID    string
	TraceID   string
	Attempt   int
	LatencyMs float64

	QueueDepthIn  int
	QueueDepthOut int
	OutgoingEdges int
	QueueMaxSize  int

	TracePending   int
	TraceInflight  int
	TraceCancelled bool

	Extra map[string]any
}

// StoredEvent is the persisted form of a FlowEvent, as written through the
// Store (state hook) protocol. Payload carries every FlowEvent field plus
// error detail when applicable, stored as a structured map rather than a
// narrow fixed schema so new fields don't require a storage migration.
type StoredEvent struct {
	TraceID  string
	Ts       time.Time
	Kind     EventType
	NodeName string
	NodeID   string
	Payload  map[string]any
}

// EventToPayload flattens a FlowEvent into the map used by StoredEvent.
func EventToPayload(ev FlowEvent) map[string]any {
	payload := map[string]any{
		"event_type":       string(ev.EventType),
		"ts":               ev.Ts,
		"node_name":        ev.NodeName,
		"node_id":          ev.NodeID,
		"trace_id":         ev.TraceID,
		"attempt":          ev.Attempt,
		"latency_ms":       ev.LatencyMs,
		"queue_depth_in":   ev.QueueDepthIn,
		"queue_depth_out":  ev.QueueDepthOut,
		"outgoing_edges":   ev.OutgoingEdges,
		"queue_maxsize":    ev.QueueMaxSize,
		"trace_pending":    ev.TracePending,
		"trace_inflight":   ev.TraceInflight,
		"trace_cancelled":  ev.TraceCancelled,
	}
	for k, v := range ev.Extra {
		payload[k] = v
	}
	return payload
}
