package penguiflow

import "context"

// RemoteBinding ties a trace to an external task/session identity, per spec
// §6.1. It exists so host applications (e.g. an HTTP adapter fronting this
// runtime) can resolve a trace back to the remote agent/session that
// started it.
type RemoteBinding struct {
	TraceID   string
	ContextID string
	TaskID    string
	AgentURL  string
}

// Store is the duck-typed state hook protocol. Errors returned from
// SaveEvent are logged by the runtime and never propagated to node tasks;
// the runtime itself never calls SaveRemoteBinding, which is for host
// applications to call directly. LoadHistory errors are returned to the caller
// of Flow.LoadHistory since that is a direct, synchronous query, not part
// of the hot path.
//
// Implementations must be idempotent: under retry, SaveEvent may be called
// more than once for the same (TraceID, Ts, Kind, NodeID).
type Store interface {
	SaveEvent(ctx context.Context, event StoredEvent) error
	LoadHistory(ctx context.Context, traceID string) ([]StoredEvent, error)
	SaveRemoteBinding(ctx context.Context, binding RemoteBinding) error
}

// PublishHook is the optional message-bus publish hook, called for every
// emit. Failures are logged and never propagated.
type PublishHook func(ctx context.Context, msg AnyMessage)

// noopStore discards everything; used when a Flow is created without
// WithStateStore, keeping the event-sink invocation path unconditional rather than
// nil-checked at every call site.
type noopStore struct{}

func (noopStore) SaveEvent(context.Context, StoredEvent) error          { return nil }
func (noopStore) LoadHistory(context.Context, string) ([]StoredEvent, error) { return nil, nil }
func (noopStore) SaveRemoteBinding(context.Context, RemoteBinding) error { return nil }
