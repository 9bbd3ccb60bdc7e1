package penguiflow

import "fmt"

// AnyMessage is the envelope type that actually travels on a Floe. The
// runtime is necessarily untyped at the edge level, because a single graph
// routes many distinct payload types across its edges. Type compatibility
// between a node and its neighbors is not checked when the graph is built
// (Node.To records successor names only); it is checked per envelope at run
// time, by the Typed adapter's type assertion and, when enabled, by
// validation via the SchemaRegistry.
type AnyMessage = Message[any]

// NodeResult is what a node Handler produces for a single invocation: zero
// or more output envelopes (forwarded to successors in emission order) and
// an optional error. A handler that returns a non-nil Err is handled by the
// retry/backoff engine; returning zero outputs with a nil Err is valid for
// a node that only emitted via ctx.Emit/ctx.EmitChunk during its own
// execution.
type NodeResult struct {
	Out []AnyMessage
	Err error
}

// Handler is the function a Node wraps. ctx carries the per-invocation
// capability handle (emit, fetch, cancellation, deadline); it is created
// fresh for every invocation and must not be retained by the handler past
// its return.
type Handler func(ctx *Context, in AnyMessage) NodeResult

// Node is a named processing unit in the graph: a handler plus the policy
// governing its retries/timeout/validation, and the list of nodes it feeds.
// A Node with no successors is a leaf feeding the Rookery (egress).
type Node struct {
	// Name uniquely identifies this node within a Flow.
	Name string

	// Policy governs retries, timeout and validation for this node.
	Policy NodePolicy

	// AllowParallel controls whether this node's handler may run
	// concurrently across distinct in-flight envelopes. When true, up to
	// defaultNodeConcurrency invocations run in their own goroutines at
	// once; when false, the node processes strictly one envelope at a
	// time. Defaults to true for stateless nodes; set false for nodes
	// that must process one envelope at a time (e.g. nodes wrapping a
	// non-reentrant client).
	AllowParallel bool

	handler    Handler
	successors []string
	in         *Floe[AnyMessage]
	outs       map[string]*Floe[AnyMessage]
}

// NewNode creates a named node around handler with default policy
// (no retries, no validation, no timeout) and AllowParallel=true.
func NewNode(name string, handler Handler) *Node {
	if handler == nil {
		panic("penguiflow: NewNode requires a non-nil handler")
	}
	return &Node{
		Name:          name,
		handler:       handler,
		AllowParallel: true,
	}
}

// WithPolicy returns n with its policy replaced, for fluent construction:
//
//	flow.Add(penguiflow.NewNode("summarize", handler).WithPolicy(retryPolicy))
func (n *Node) WithPolicy(p NodePolicy) *Node {
	n.Policy = p
	return n
}

// To declares a directed edge from n to the named successor(s). It may be
// called multiple times to fan out to several successors; outputs are
// delivered to every successor floe unless the handler used ctx.Emit to
// address a specific one.
func (n *Node) To(successors ...string) *Node {
	n.successors = append(n.successors, successors...)
	return n
}

// Successors returns the names of this node's declared successors. An
// empty slice means n is a leaf that feeds the Rookery.
func (n *Node) Successors() []string {
	out := make([]string, len(n.successors))
	copy(out, n.successors)
	return out
}

// Typed adapts a strongly-typed node function into a Handler. It is the
// ergonomic counterpart of the untyped AnyMessage contract: callers write
// ordinary Go functions over their own payload types and get a runtime
// type-assertion error (never a panic) if the upstream graph feeds the
// wrong shape. Unlike a handler written directly against AnyMessage, each
// edge can carry its own independent input/output payload type.
func Typed[In, Out any](fn func(ctx *Context, in Message[In]) ([]Message[Out], error)) Handler {
	return func(ctx *Context, raw AnyMessage) NodeResult {
		payload, ok := raw.Payload.(In)
		if !ok {
			return NodeResult{Err: &FlowError{
				Code:    CodeValidation,
				Message: fmt.Sprintf("penguiflow: expected payload type %T, got %T", payload, raw.Payload),
				NodeID:  ctx.NodeName(),
				TraceID: raw.TraceID,
			}}
		}
		typed := Message[In]{
			Payload:    payload,
			TraceID:    raw.TraceID,
			Headers:    raw.Headers,
			DeadlineAt: raw.DeadlineAt,
			Meta:       raw.Meta,
		}
		outs, err := fn(ctx, typed)
		if err != nil {
			return NodeResult{Err: err}
		}
		result := make([]AnyMessage, len(outs))
		for i, o := range outs {
			result[i] = AnyMessage{
				Payload:    any(o.Payload),
				TraceID:    o.TraceID,
				Headers:    o.Headers,
				DeadlineAt: o.DeadlineAt,
				Meta:       o.Meta,
			}
		}
		return NodeResult{Out: result}
	}
}
