package penguiflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/penguiflow/penguiflow/internal/rtlog"
)

// defaultNodeConcurrency bounds how many invocations of a single
// AllowParallel node may run at once, across distinct in-flight envelopes.
// Nodes with AllowParallel=false are always capped at 1 regardless of this
// value.
const defaultNodeConcurrency = 8

// Flow is the runtime that owns a graph of Nodes connected by Floes and
// drives one long-lived task goroutine per node, each pulling from its own
// inbound floe and pushing to its successors', with OpenSea (ingress) and
// Rookery (egress) as the graph's outer boundary. Within a single node's
// task, handler invocations for distinct envelopes may themselves run
// concurrently, bounded by AllowParallel and defaultNodeConcurrency.
type Flow struct {
	mu    sync.Mutex
	nodes map[string]*Node
	order []string // insertion order, for deterministic Run wiring

	cfg flowConfig

	ingress *Floe[AnyMessage]
	egress  *Floe[AnyMessage]
	seq     *streamSequencer

	running atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group

	traceMu    sync.Mutex
	inflight   map[string]int
	pending    map[string]int
	cancelled  map[string]struct{}
}

// New creates an empty Flow. Nodes must be added with Add before Run.
func New(opts ...Option) *Flow {
	cfg := defaultFlowConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flow{
		nodes:     make(map[string]*Node),
		cfg:       cfg,
		seq:       newStreamSequencer(),
		inflight:  make(map[string]int),
		pending:   make(map[string]int),
		cancelled: make(map[string]struct{}),
	}
}

// Add registers a node with the flow. It must be called before Run. Adding a
// node whose name is already registered replaces the previous one.
func (f *Flow) Add(n *Node) *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.nodes[n.Name]; !exists {
		f.order = append(f.order, n.Name)
	}
	f.nodes[n.Name] = n
	return f
}

// Run wires the graph's edges, rejects cyclic graphs, and starts one task
// goroutine per node. Run is idempotent: calling it again while already
// running returns ErrFlowAlreadyRunning.
func (f *Flow) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrFlowAlreadyRunning
	}

	f.mu.Lock()
	if err := f.wireLocked(); err != nil {
		f.mu.Unlock()
		f.running.Store(false)
		return err
	}
	nodes := make([]*Node, 0, len(f.nodes))
	for _, name := range f.order {
		nodes = append(nodes, f.nodes[name])
	}
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	f.runCtx = runCtx
	f.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	f.group = group

	for _, n := range nodes {
		node := n
		group.Go(func() error {
			f.runNodeTask(gctx, node)
			return nil
		})
	}
	return nil
}

// wireLocked allocates each node's inbound floe and its successors' outbound
// floe map, and rejects a graph containing a cycle: controlled loops are out
// of scope for this runtime. Must be called with f.mu held.
func (f *Flow) wireLocked() error {
	for _, n := range f.nodes {
		for _, succ := range n.successors {
			if _, ok := f.nodes[succ]; !ok {
				return fmt.Errorf("%w: %q (successor of %q)", ErrUnknownNode, succ, n.Name)
			}
		}
	}
	if cyclic(f.nodes) {
		return ErrCyclicGraph
	}

	f.ingress = NewFloe[AnyMessage](f.cfg.ingressCapacity)
	f.egress = NewFloe[AnyMessage](f.cfg.egressCapacity)

	for _, n := range f.nodes {
		n.in = NewFloe[AnyMessage](f.cfg.edgeCapacity)
	}
	roots := make(map[string]bool, len(f.nodes))
	for name := range f.nodes {
		roots[name] = true
	}
	for _, n := range f.nodes {
		n.outs = make(map[string]*Floe[AnyMessage], len(n.successors))
		for _, succ := range n.successors {
			n.outs[succ] = f.nodes[succ].in
			roots[succ] = false
		}
	}
	// Root nodes (no one points at them) read directly from the ingress
	// floe instead of their own private inbound floe.
	for name, isRoot := range roots {
		if isRoot {
			f.nodes[name].in = f.ingress
		}
	}
	return nil
}

// cyclic runs a simple DFS cycle check over the declared successor edges.
func cyclic(nodes map[string]*Node) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var visit func(name string) bool
	visit = func(name string) bool {
		switch color[name] {
		case gray:
			return true
		case black:
			return false
		}
		color[name] = gray
		n, ok := nodes[name]
		if ok {
			for _, succ := range n.successors {
				if visit(succ) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}
	for name := range nodes {
		if visit(name) {
			return true
		}
	}
	return false
}

// Stop cancels every node task and waits for them to exit. After Stop
// returns, Run may be called again.
func (f *Flow) Stop() error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}
	if f.cancel != nil {
		f.cancel()
	}
	var err error
	if f.group != nil {
		err = f.group.Wait()
	}
	f.mu.Lock()
	for _, n := range f.nodes {
		if n.in != nil {
			n.in.Close()
		}
	}
	if f.ingress != nil {
		f.ingress.Close()
	}
	if f.egress != nil {
		f.egress.Close()
	}
	f.mu.Unlock()
	return err
}

// Emit pushes msg onto the ingress floe (OpenSea), blocking under
// backpressure until capacity frees up or ctx is cancelled.
func (f *Flow) Emit(ctx context.Context, msg AnyMessage) error {
	if !f.running.Load() {
		return ErrFlowNotRunning
	}
	if msg.TraceID == "" {
		msg.TraceID = NewTraceID()
	}
	f.trackPending(msg.TraceID, 1)
	if err := f.ingress.Put(ctx, msg); err != nil {
		f.trackPending(msg.TraceID, -1)
		return err
	}
	return nil
}

// EmitNowait is the non-blocking counterpart of Emit.
func (f *Flow) EmitNowait(msg AnyMessage) error {
	if !f.running.Load() {
		return ErrFlowNotRunning
	}
	if msg.TraceID == "" {
		msg.TraceID = NewTraceID()
	}
	f.trackPending(msg.TraceID, 1)
	if err := f.ingress.PutNowait(msg); err != nil {
		f.trackPending(msg.TraceID, -1)
		return err
	}
	return nil
}

// Fetch pops the next finished envelope from the egress floe (Rookery). A
// *FlowError payload indicates the trace terminated in failure rather than
// success.
func (f *Flow) Fetch(ctx context.Context) (AnyMessage, error) {
	if !f.running.Load() {
		return AnyMessage{}, ErrFlowNotRunning
	}
	out, err := f.egress.Get(ctx)
	if err == nil {
		f.trackPending(out.TraceID, -1)
	}
	return out, err
}

// Cancel marks traceID cancelled: every node task currently processing, or
// about to process, an envelope with this trace id will short-circuit. It is
// idempotent and emits exactly one trace_cancel_start/trace_cancel_finish
// event pair for the first call.
func (f *Flow) Cancel(traceID string) {
	f.traceMu.Lock()
	if _, already := f.cancelled[traceID]; already {
		f.traceMu.Unlock()
		return
	}
	f.cancelled[traceID] = struct{}{}
	f.traceMu.Unlock()

	f.emitTraceEvent(EventTraceCancelStart, traceID)
	f.emitTraceEvent(EventTraceCancelFinish, traceID)
}

func (f *Flow) isCancelled(traceID string) bool {
	f.traceMu.Lock()
	defer f.traceMu.Unlock()
	_, ok := f.cancelled[traceID]
	return ok
}

// LoadHistory delegates to the configured Store, returning the persisted
// event history for traceID.
func (f *Flow) LoadHistory(ctx context.Context, traceID string) ([]StoredEvent, error) {
	return f.cfg.store.LoadHistory(ctx, traceID)
}

func (f *Flow) trackPending(traceID string, delta int) {
	f.traceMu.Lock()
	defer f.traceMu.Unlock()
	f.pending[traceID] += delta
	if f.pending[traceID] <= 0 {
		delete(f.pending, traceID)
	}
}

func (f *Flow) trackInflight(traceID string, delta int) {
	f.traceMu.Lock()
	defer f.traceMu.Unlock()
	f.inflight[traceID] += delta
	if f.inflight[traceID] <= 0 {
		delete(f.inflight, traceID)
	}
}

func (f *Flow) traceCounts(traceID string) (pending, inflight int) {
	f.traceMu.Lock()
	defer f.traceMu.Unlock()
	return f.pending[traceID], f.inflight[traceID]
}

// runNodeTask is the per-node goroutine body: pull from the node's inbound
// floe, check cancellation and deadline, run the handler under policy, route
// outputs to successors (or the egress floe for leaf nodes), repeat until
// ctx is cancelled. When AllowParallel is set, up to defaultNodeConcurrency
// dispatches for this node run concurrently in their own goroutines rather
// than one at a time; a node with AllowParallel=false is capped at one
// in-flight dispatch, so it processes its inbound floe strictly serially.
func (f *Flow) runNodeTask(ctx context.Context, n *Node) {
	limit := 1
	if n.AllowParallel {
		limit = defaultNodeConcurrency
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		in, err := n.in.Get(ctx)
		if err != nil {
			return
		}
		f.trackPending(in.TraceID, -1)

		if f.isCancelled(in.TraceID) {
			continue
		}
		if in.Expired(time.Now()) {
			f.emitNodeEvent(n, in, EventDeadlineSkip, 0, 0, nil)
			fe := newFlowError(CodeDeadlineExceeded, n.Name, in.TraceID, "message deadline exceeded before node ran", nil)
			f.deliverEgress(ctx, AnyMessage{Payload: fe, TraceID: in.TraceID, Headers: in.Headers, Meta: in.Meta})
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		f.trackInflight(in.TraceID, 1)
		wg.Add(1)
		go func(in AnyMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			f.dispatch(ctx, n, in)
			f.trackInflight(in.TraceID, -1)
		}(in)
	}
}

// dispatch runs one envelope through a node's policy-wrapped handler and
// routes the result.
func (f *Flow) dispatch(ctx context.Context, n *Node, in AnyMessage) {
	if n.Policy.Validate == ValidateIn || n.Policy.Validate == ValidateBoth {
		if verr := validateInput(n.Name, f.cfg.registry, in); verr != nil {
			f.emitNodeEvent(n, in, EventValidationError, 1, 0, map[string]any{"error": verr.Error()})
			f.routeError(ctx, n, in, verr)
			return
		}
	}

	pctxFactory := func(attemptCtx context.Context) *Context {
		return f.newContext(attemptCtx, n, in)
	}
	sink := func(evType EventType, attempt int, latencyMs float64, extra map[string]any) {
		f.emitNodeEvent(n, in, evType, attempt, latencyMs, extra)
	}

	result := runWithPolicy(ctx, n, f.cfg.registry, pctxFactory, in, sink)
	if f.isCancelled(in.TraceID) {
		// A trace cancelled while its handler ran produces no further
		// output, neither downstream nor on egress.
		return
	}
	if result.Err != nil {
		f.routeError(ctx, n, in, result.Err)
		return
	}
	for _, out := range result.Out {
		f.routeOutput(ctx, n, out)
	}
}

func (f *Flow) routeOutput(ctx context.Context, n *Node, out AnyMessage) {
	f.publish(ctx, out)
	if len(n.outs) == 0 {
		f.deliverEgress(ctx, out)
		return
	}
	for _, succ := range n.outs {
		f.trackPending(out.TraceID, 1)
		if err := succ.Put(ctx, out); err != nil {
			f.trackPending(out.TraceID, -1)
			rtlog.Warn("penguiflow: dropping output on cancelled context", "node", n.Name, "error", err)
		}
	}
}

func (f *Flow) routeError(ctx context.Context, n *Node, in AnyMessage, err error) {
	fe, ok := err.(*FlowError)
	if !ok {
		fe = newFlowError(CodeNodeFailed, n.Name, in.TraceID, err.Error(), err)
	}
	out := AnyMessage{Payload: fe, TraceID: in.TraceID, Headers: in.Headers, Meta: in.Meta}
	f.deliverEgress(ctx, out)
}

func (f *Flow) deliverEgress(ctx context.Context, out AnyMessage) {
	f.trackPending(out.TraceID, 1)
	if err := f.egress.Put(ctx, out); err != nil {
		f.trackPending(out.TraceID, -1)
		rtlog.Warn("penguiflow: dropping egress delivery on shutdown", "error", err)
	}
}

// newContext builds the per-invocation Context, wiring its closures to this
// Flow without ever exposing *Flow itself to node code.
func (f *Flow) newContext(ctx context.Context, n *Node, in AnyMessage) *Context {
	return &Context{
		ctx:  ctx,
		node: n.Name,
		in:   in,
		emit: func(ctx context.Context, msg AnyMessage, to string) error {
			f.emitNodeEvent(n, in, EventEmit, 0, 0, map[string]any{"to": to})
			if to == "" {
				f.routeOutput(ctx, n, msg)
				return nil
			}
			succ, ok := n.outs[to]
			if !ok {
				return fmt.Errorf("%w: %q is not a successor of %q", ErrUnknownNode, to, n.Name)
			}
			f.publish(ctx, msg)
			f.trackPending(msg.TraceID, 1)
			if err := succ.Put(ctx, msg); err != nil {
				f.trackPending(msg.TraceID, -1)
				return err
			}
			return nil
		},
		fetch: func(ctx context.Context) (AnyMessage, error) {
			f.emitNodeEvent(n, in, EventFetch, 0, 0, nil)
			msg, err := n.in.Get(ctx)
			if err == nil {
				f.trackPending(msg.TraceID, -1)
			}
			return msg, err
		},
		chunk: func(ctx context.Context, streamID, text string, done bool, data []byte) error {
			seq := f.seq.next(streamID, done)
			chunkMsg := AnyMessage{
				Payload: StreamChunk{StreamID: streamID, Seq: seq, Text: text, Bytes: data, Done: done},
				TraceID: in.TraceID,
				Headers: in.Headers,
				Meta:    in.Meta,
			}
			f.emitNodeEvent(n, in, EventStreamChunk, 0, 0, map[string]any{"stream_id": streamID, "seq": seq, "done": done})
			f.routeOutput(ctx, n, chunkMsg)
			return nil
		},
		artifact: func(name string, data any) {
			f.emitNodeEvent(n, in, EventEmit, 0, 0, map[string]any{"artifact": name, "data": data})
		},
		cancelled: func() bool {
			return f.isCancelled(in.TraceID)
		},
	}
}

// publish fires the optional message-bus publish hook, never propagating a
// failure to the caller.
func (f *Flow) publish(ctx context.Context, msg AnyMessage) {
	if f.cfg.publish == nil {
		return
	}
	hookCtx, cancel := context.WithTimeout(ctx, f.cfg.hookTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			rtlog.Warn("penguiflow: publish hook panicked", "error", r)
		}
	}()
	f.cfg.publish(hookCtx, msg)
}

// emitNodeEvent assembles a FlowEvent, runs it through the middleware chain,
// then through the state hook.
func (f *Flow) emitNodeEvent(n *Node, in AnyMessage, evType EventType, attempt int, latencyMs float64, extra map[string]any) {
	pending, inflight := f.traceCounts(in.TraceID)
	ev := FlowEvent{
		EventType:      evType,
		Ts:             time.Now(),
		NodeName:       n.Name,
		NodeID:         n.Name,
		TraceID:        in.TraceID,
		Attempt:        attempt,
		LatencyMs:      latencyMs,
		QueueDepthIn:   n.in.Depth(),
		OutgoingEdges:  len(n.outs),
		QueueMaxSize:   n.in.Capacity(),
		TracePending:   pending,
		TraceInflight:  inflight,
		TraceCancelled: f.isCancelled(in.TraceID),
		Extra:          extra,
	}
	f.handleEvent(ev)
}

func (f *Flow) emitTraceEvent(evType EventType, traceID string) {
	pending, inflight := f.traceCounts(traceID)
	ev := FlowEvent{
		EventType:      evType,
		Ts:             time.Now(),
		TraceID:        traceID,
		TracePending:   pending,
		TraceInflight:  inflight,
		TraceCancelled: true,
	}
	f.handleEvent(ev)
}

func (f *Flow) handleEvent(ev FlowEvent) {
	ev = runMiddleware(f.cfg.middleware, ev, func(nodeName string, r any) {
		rtlog.Warn("penguiflow: middleware panicked", "node", nodeName, "panic", r)
	})

	hookCtx, cancel := context.WithTimeout(context.Background(), f.cfg.hookTimeout)
	defer cancel()
	stored := StoredEvent{
		TraceID:  ev.TraceID,
		Ts:       ev.Ts,
		Kind:     ev.EventType,
		NodeName: ev.NodeName,
		NodeID:   ev.NodeID,
		Payload:  EventToPayload(ev),
	}
	if err := f.cfg.store.SaveEvent(hookCtx, stored); err != nil {
		rtlog.Warn("penguiflow: state hook SaveEvent failed", "error", err)
	}
}
