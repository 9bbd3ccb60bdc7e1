package penguiflow

import "sync"

// joinBucket accumulates the envelopes seen so far for one trace, in FIFO
// arrival order.
type joinBucket struct {
	items []AnyMessage
}

// JoinK returns a Node named name that buffers the first k envelopes per
// trace arriving on its input floe. On the kth arrival it emits a single
// aggregated envelope whose payload is a []any of the buffered payloads in
// arrival order, then clears the accumulating bucket and marks the trace
// done; any arrival for a trace already marked done is dropped, including
// arrivals that show up well after the aggregate was emitted — a cleared
// trace id is never reopened into a new bucket.
//
// Arrival order is defined by the order in which items are pulled off the
// node's single input floe, which Floe guarantees is FIFO per producer;
// JoinK itself adds no additional ordering logic beyond buffering in the
// order received. The returned node has AllowParallel=false, so envelopes
// reach the handler one at a time in the order they leave the floe.
func JoinK(name string, k int) *Node {
	if k <= 0 {
		panic("penguiflow: JoinK requires k > 0")
	}
	var mu sync.Mutex
	buckets := make(map[string]*joinBucket)
	done := make(map[string]struct{})

	handler := func(ctx *Context, in AnyMessage) NodeResult {
		mu.Lock()
		if _, finished := done[in.TraceID]; finished {
			mu.Unlock()
			return NodeResult{}
		}
		bucket, ok := buckets[in.TraceID]
		if !ok {
			bucket = &joinBucket{items: make([]AnyMessage, 0, k)}
			buckets[in.TraceID] = bucket
		}
		bucket.items = append(bucket.items, in)
		if len(bucket.items) < k {
			mu.Unlock()
			return NodeResult{}
		}
		delete(buckets, in.TraceID)
		done[in.TraceID] = struct{}{}
		mu.Unlock()

		payloads := make([]any, len(bucket.items))
		for i, item := range bucket.items {
			payloads[i] = item.Payload
		}
		out := AnyMessage{
			Payload:    payloads,
			TraceID:    in.TraceID,
			Headers:    in.Headers,
			DeadlineAt: in.DeadlineAt,
			Meta:       in.Meta,
		}
		return NodeResult{Out: []AnyMessage{out}}
	}

	node := NewNode(name, handler)
	node.AllowParallel = false
	return node
}

// joinAllBucket tracks partial results for JoinAll, which additionally
// records per-slot errors rather than dropping failed branches.
type joinAllBucket struct {
	items   []AnyMessage
	errs    []error
	arrived int
}

// JoinAllResult is the payload a branch sends to a JoinAll node: its slot
// index, its value, and its error, if any.
type JoinAllResult struct {
	Slot  int
	Value any
	Err   error
}

// JoinAll returns a Node named name that waits for all n branches of a
// fan-out to report for a trace before emitting, unlike JoinK which only
// needs the first k. Each branch reports by emitting an envelope whose
// payload is a JoinAllResult identifying its slot; JoinAll aggregates by
// slot index rather than arrival order, so branch results land in a fixed
// position regardless of completion order. This is a distinct "wait for all
// N, report failures" helper rather than a mode of JoinK, since it needs a
// different (slot-indexed, error-carrying) aggregate shape.
func JoinAll(name string, n int) *Node {
	if n <= 0 {
		panic("penguiflow: JoinAll requires n > 0")
	}
	var mu sync.Mutex
	buckets := make(map[string]*joinAllBucket)

	handler := func(ctx *Context, in AnyMessage) NodeResult {
		res, ok := in.Payload.(JoinAllResult)
		if !ok {
			return NodeResult{Err: &FlowError{
				Code:    CodeValidation,
				Message: "JoinAll requires JoinAllResult payloads",
				NodeID:  ctx.NodeName(),
				TraceID: in.TraceID,
			}}
		}

		mu.Lock()
		bucket, ok := buckets[in.TraceID]
		if !ok {
			bucket = &joinAllBucket{
				items: make([]AnyMessage, n),
				errs:  make([]error, n),
			}
			buckets[in.TraceID] = bucket
		}
		if res.Slot < 0 || res.Slot >= n {
			mu.Unlock()
			return NodeResult{Err: &FlowError{
				Code:    CodeValidation,
				Message: "JoinAll result slot out of range",
				NodeID:  ctx.NodeName(),
				TraceID: in.TraceID,
			}}
		}
		bucket.items[res.Slot] = in
		bucket.errs[res.Slot] = res.Err
		bucket.arrived++
		if bucket.arrived < n {
			mu.Unlock()
			return NodeResult{}
		}
		delete(buckets, in.TraceID)
		mu.Unlock()

		// The aggregate carries every slot's JoinAllResult (value and
		// error both), rather than a terminal FlowError: a partial
		// failure is a property of the aggregate, not of JoinAll's own
		// invocation, so it must never re-enter the retry engine.
		results := make([]any, n)
		for i, item := range bucket.items {
			if r, ok := item.Payload.(JoinAllResult); ok {
				results[i] = r
			}
		}
		out := AnyMessage{
			Payload:    results,
			TraceID:    in.TraceID,
			Headers:    in.Headers,
			DeadlineAt: in.DeadlineAt,
			Meta:       in.Meta,
		}
		return NodeResult{Out: []AnyMessage{out}}
	}

	return NewNode(name, handler)
}
