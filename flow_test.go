package penguiflow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlow(opts ...Option) *Flow {
	return New(opts...)
}

// TestLinearEchoPreservesEnvelope runs a single envelope through a two-node
// linear graph (A→B) and checks the trace id and headers survive unchanged.
func TestLinearEchoPreservesEnvelope(t *testing.T) {
	a := NewNode("A", Typed(func(ctx *Context, in Message[string]) ([]Message[string], error) {
		return []Message[string]{WithPayload(in, strings.ToUpper(in.Payload))}, nil
	})).To("B")
	b := NewNode("B", Typed(func(ctx *Context, in Message[string]) ([]Message[string], error) {
		return []Message[string]{WithPayload(in, in.Payload+"!")}, nil
	}))

	flow := newTestFlow()
	flow.Add(a).Add(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	in := NewMessage[any]("hi")
	in.Headers["tenant"] = "acme"
	require.NoError(t, flow.Emit(ctx, in))

	out, err := flow.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HI!", out.Payload)
	assert.Equal(t, in.TraceID, out.TraceID)
	assert.Equal(t, "acme", out.Headers["tenant"])
}

// TestBackpressureDeliversAllInOrder fills a small-capacity ingress floe
// past its bound and confirms every item still arrives, in order, once the
// consumer drains it.
func TestBackpressureDeliversAllInOrder(t *testing.T) {
	release := make(chan struct{})
	consumer := NewNode("consumer", Typed(func(ctx *Context, in Message[int]) ([]Message[int], error) {
		<-release
		return []Message[int]{in}, nil
	}))
	// Serial dispatch: concurrent invocations of one node may finish in any
	// order, so egress order is only defined for a non-parallel node.
	consumer.AllowParallel = false

	flow := newTestFlow(WithIngressCapacity(2))
	flow.Add(consumer)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	traceID := NewTraceID()
	done := make(chan error, 1)
	go func() {
		for i := 1; i <= 4; i++ {
			if err := flow.Emit(ctx, AnyMessage{Payload: i, TraceID: traceID}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	for i := 1; i <= 4; i++ {
		out, err := flow.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, out.Payload)
	}
}

// TestRetryThenSuccessEmitsExpectedEventSequence asserts the exact
// node_start/node_retry/.../node_success event sequence for a handler that
// fails twice before succeeding.
func TestRetryThenSuccessEmitsExpectedEventSequence(t *testing.T) {
	var attempts int32
	flaky := NewNode("flaky", func(ctx *Context, in AnyMessage) NodeResult {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return NodeResult{Err: errors.New("transient failure")}
		}
		return NodeResult{Out: []AnyMessage{in}}
	}).WithPolicy(NodePolicy{
		MaxRetries:  2,
		BackoffBase: 10 * time.Millisecond,
		BackoffMult: 2,
	})

	recorder := &recordingMiddleware{}
	flow := newTestFlow(WithMiddleware(recorder))
	flow.Add(flaky)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	start := time.Now()
	require.NoError(t, flow.Emit(ctx, NewMessage[any](1)))
	_, err := flow.Fetch(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)

	var kinds []EventType
	for _, ev := range recorder.drain() {
		if ev.NodeName == "flaky" {
			kinds = append(kinds, ev.EventType)
		}
	}
	assert.Equal(t, []EventType{EventNodeStart, EventNodeRetry, EventNodeRetry, EventNodeSuccess}, kinds)
}

// TestDeadlineExceededSkipsHandler confirms a node never invokes its handler
// for an envelope whose deadline has already passed, and instead routes a
// CodeDeadlineExceeded FlowError to egress.
func TestDeadlineExceededSkipsHandler(t *testing.T) {
	var invoked atomic.Bool
	node := NewNode("n", func(ctx *Context, in AnyMessage) NodeResult {
		invoked.Store(true)
		return NodeResult{Out: []AnyMessage{in}}
	})

	flow := newTestFlow()
	flow.Add(node)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	msg := NewMessage[any]("late")
	msg.DeadlineAt = time.Now().Add(-time.Second)
	require.NoError(t, flow.Emit(ctx, msg))

	out, err := flow.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, invoked.Load())

	fe, ok := out.Payload.(*FlowError)
	require.True(t, ok)
	assert.Equal(t, CodeDeadlineExceeded, fe.Code)
}

// TestCancelIsolatesTraceFromSibling cancels one trace mid-flight and
// confirms a sibling trace running through the same nodes is unaffected.
func TestCancelIsolatesTraceFromSibling(t *testing.T) {
	slow := NewNode("slow", func(ctx *Context, in AnyMessage) NodeResult {
		select {
		case <-time.After(150 * time.Millisecond):
		case <-ctx.Context().Done():
		}
		return NodeResult{Out: []AnyMessage{in}}
	})

	flow := newTestFlow()
	flow.Add(slow)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	t1 := NewMessage[any]("one")
	t2 := NewMessage[any]("two")
	require.NoError(t, flow.Emit(ctx, t1))
	require.NoError(t, flow.Emit(ctx, t2))

	time.Sleep(20 * time.Millisecond)
	flow.Cancel(t1.TraceID)

	out, err := flow.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, t2.TraceID, out.TraceID)

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer fetchCancel()
	_, err = flow.Fetch(fetchCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "trace one must never reach egress once cancelled")
}

func TestValidationErrorSkipsHandlerAndIsTerminal(t *testing.T) {
	registry := NewSchemaRegistry()
	registry.Register("n", ValidatorFunc(func(value any) (any, error) {
		return nil, errors.New("always invalid")
	}), nil)

	var invoked atomic.Bool
	node := NewNode("n", func(ctx *Context, in AnyMessage) NodeResult {
		invoked.Store(true)
		return NodeResult{Out: []AnyMessage{in}}
	}).WithPolicy(NodePolicy{Validate: ValidateIn})

	flow := newTestFlow(WithRegistry(registry))
	flow.Add(node)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	require.NoError(t, flow.Emit(ctx, NewMessage[any]("x")))
	out, err := flow.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, invoked.Load())

	fe, ok := out.Payload.(*FlowError)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, fe.Code)
}

func TestRunRejectsCyclicGraph(t *testing.T) {
	a := NewNode("a", func(ctx *Context, in AnyMessage) NodeResult { return NodeResult{} }).To("b")
	b := NewNode("b", func(ctx *Context, in AnyMessage) NodeResult { return NodeResult{} }).To("a")

	flow := newTestFlow()
	flow.Add(a).Add(b)

	err := flow.Run(context.Background())
	assert.ErrorIs(t, err, ErrCyclicGraph)
}

func TestRunTwiceReturnsErrFlowAlreadyRunning(t *testing.T) {
	n := NewNode("n", func(ctx *Context, in AnyMessage) NodeResult { return NodeResult{} })
	flow := newTestFlow()
	flow.Add(n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	assert.ErrorIs(t, flow.Run(ctx), ErrFlowAlreadyRunning)
}

// TestAllowParallelTrueRunsHandlerConcurrently proves a node with
// AllowParallel=true actually fans invocations across goroutines: it blocks
// every invocation on a shared barrier that only releases once enough
// invocations have entered concurrently, which would deadlock under serial
// dispatch.
func TestAllowParallelTrueRunsHandlerConcurrently(t *testing.T) {
	const concurrent = 3
	var inflight atomic.Int32
	entered := make(chan struct{}, concurrent)
	release := make(chan struct{})

	node := NewNode("p", func(ctx *Context, in AnyMessage) NodeResult {
		inflight.Add(1)
		entered <- struct{}{}
		<-release
		inflight.Add(-1)
		return NodeResult{Out: []AnyMessage{in}}
	})
	node.AllowParallel = true

	flow := newTestFlow()
	flow.Add(node)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	for i := 0; i < concurrent; i++ {
		require.NoError(t, flow.Emit(ctx, AnyMessage{Payload: i}))
	}

	for i := 0; i < concurrent; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d invocations entered concurrently; dispatch is not fanning out", i, concurrent)
		}
	}
	assert.Equal(t, int32(concurrent), inflight.Load())
	close(release)

	for i := 0; i < concurrent; i++ {
		_, err := flow.Fetch(ctx)
		require.NoError(t, err)
	}
}

// TestAllowParallelFalseRunsHandlerSerially confirms a node with
// AllowParallel=false never has more than one invocation in flight, even
// when several envelopes are queued at once.
func TestAllowParallelFalseRunsHandlerSerially(t *testing.T) {
	var inflight atomic.Int32
	var maxObserved atomic.Int32

	node := NewNode("s", func(ctx *Context, in AnyMessage) NodeResult {
		n := inflight.Add(1)
		for {
			cur := maxObserved.Load()
			if n <= cur || maxObserved.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return NodeResult{Out: []AnyMessage{in}}
	})
	node.AllowParallel = false

	flow := newTestFlow()
	flow.Add(node)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, flow.Run(ctx))
	defer flow.Stop()

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, flow.Emit(ctx, AnyMessage{Payload: i}))
	}
	for i := 0; i < n; i++ {
		_, err := flow.Fetch(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), maxObserved.Load())
}

type recordingMiddleware struct {
	events []FlowEvent
}

func (r *recordingMiddleware) OnEvent(ev FlowEvent) FlowEvent {
	r.events = append(r.events, ev)
	return ev
}

func (r *recordingMiddleware) drain() []FlowEvent {
	return r.events
}
