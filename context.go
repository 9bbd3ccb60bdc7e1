package penguiflow

import "context"

// Context is the per-invocation handle passed to a node's Handler. It is
// created fresh for every envelope and must not be retained past the
// handler's return. Context holds no back-reference to the owning Flow:
// every capability is a short-lived, closed-over function, so a Node can
// never reach back into the runtime except through what Context exposes —
// this keeps Node and Flow from holding cyclic references to each other.
type Context struct {
	ctx     context.Context //nolint:containedctx // per-invocation handle, not stored
	node    string
	in      AnyMessage
	emit    func(ctx context.Context, msg AnyMessage, to string) error
	fetch   func(ctx context.Context) (AnyMessage, error)
	chunk   func(ctx context.Context, streamID, text string, done bool, data []byte) error
	artifact func(name string, data any)
	cancelled func() bool
}

// Context returns the underlying execution context, which is cancelled
// when the node's per-attempt timeout or the flow's own shutdown fires.
// Handlers performing I/O should thread this through to honor cooperative
// cancellation.
func (c *Context) Context() context.Context { return c.ctx }

// NodeName returns the name of the node currently executing.
func (c *Context) NodeName() string { return c.node }

// TraceID returns the trace id of the envelope being processed.
func (c *Context) TraceID() string { return c.in.TraceID }

// Headers returns the headers of the envelope being processed.
func (c *Context) Headers() map[string]string { return c.in.Headers }

// Meta returns the meta map of the envelope being processed.
func (c *Context) Meta() map[string]any { return c.in.Meta }

// Cancelled reports whether the current trace has been cancelled. Handlers
// performing long-running work should poll this between suspension points.
func (c *Context) Cancelled() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}

// Emit pushes value to a specific successor floe. If to is empty, the
// envelope is delivered to all of the node's successors (the "linear
// fan-out" default). Emit blocks under backpressure and returns the context
// error if the invocation's context (per-attempt timeout or flow shutdown)
// ends while it waits. Emit does not consult the trace's cancelled state:
// it neither refuses nor unblocks an emit for a cancelled trace.
func (c *Context) Emit(msg AnyMessage, to string) error {
	return c.emit(c.ctx, msg, to)
}

// Fetch pops the next input envelope for this node without touching other
// nodes' floes; used by planner-style pull nodes that drive their own read
// loop instead of being driven by the standard node task loop.
func (c *Context) Fetch() (AnyMessage, error) {
	return c.fetch(c.ctx)
}

// EmitChunk stamps and forwards a streamed chunk. See streamSequencer for
// the monotonic/reset semantics.
func (c *Context) EmitChunk(streamID, text string, done bool) error {
	return c.chunk(c.ctx, streamID, text, done, nil)
}

// EmitChunkBytes is the binary-payload counterpart of EmitChunk.
func (c *Context) EmitChunkBytes(streamID string, data []byte, done bool) error {
	return c.chunk(c.ctx, streamID, "", done, data)
}

// EmitArtifact is a best-effort structured-artifact emission to the event
// stream, never to a successor floe. It never returns an error: the artifact
// is recorded as an emit event (name and data in Extra) that runs through
// the middleware chain and the state hook before EmitArtifact returns.
func (c *Context) EmitArtifact(name string, data any) {
	if c.artifact != nil {
		c.artifact(name, data)
	}
}
