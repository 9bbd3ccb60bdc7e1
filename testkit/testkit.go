// Package testkit provides fault-injection and assertion helpers for
// exercising a penguiflow.Flow in tests: real timers rather than a mocked
// clock, since Flow's retry/backoff and deadline handling are timing
// sensitive enough that a fake clock would hide real scheduling bugs.
package testkit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/penguiflow/penguiflow"
)

// RunOne emits a single envelope into flow, waits up to timeout for exactly
// one egress envelope, and returns it. It is the common case for a
// single-trace unit test: emit one input, assert on one output.
func RunOne(t *testing.T, ctx context.Context, flow *penguiflow.Flow, in penguiflow.AnyMessage, timeout time.Duration) (penguiflow.AnyMessage, error) {
	t.Helper()

	if err := flow.Emit(ctx, in); err != nil {
		return penguiflow.AnyMessage{}, fmt.Errorf("testkit: emit: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := flow.Fetch(fetchCtx)
	if err != nil {
		return penguiflow.AnyMessage{}, fmt.Errorf("testkit: fetch: %w", err)
	}
	return out, nil
}

// AssertNodeSequence collects the NodeName of every FlowEvent of the given
// kind observed on events, in arrival order, and fails the test if it
// doesn't equal want. Callers typically build events by attaching a
// recording penguiflow.Middleware before calling flow.Run.
func AssertNodeSequence(t *testing.T, events []penguiflow.FlowEvent, kind penguiflow.EventType, want []string) {
	t.Helper()

	var got []string
	for _, ev := range events {
		if ev.EventType == kind {
			got = append(got, ev.NodeName)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("testkit: node sequence length mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("testkit: node sequence mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

// AssertPreservesMessageEnvelope asserts that out carries the same TraceID
// as in, and that every header/meta key present on in is still present
// (with the same value) on out — the "envelope preservation" invariant
// nodes are expected to uphold unless they explicitly overwrite a key.
func AssertPreservesMessageEnvelope(t *testing.T, in, out penguiflow.AnyMessage) {
	t.Helper()

	if out.TraceID != in.TraceID {
		t.Fatalf("testkit: trace id not preserved: got %q, want %q", out.TraceID, in.TraceID)
	}
	for k, v := range in.Headers {
		if out.Headers[k] != v {
			t.Fatalf("testkit: header %q not preserved: got %q, want %q", k, out.Headers[k], v)
		}
	}
	for k, v := range in.Meta {
		gv, ok := out.Meta[k]
		if !ok || fmt.Sprint(gv) != fmt.Sprint(v) {
			t.Fatalf("testkit: meta key %q not preserved: got %v, want %v", k, gv, v)
		}
	}
}

// FailNTimes returns a penguiflow.Handler wrapper that fails the first n
// invocations with err (default fmt.Errorf("testkit: injected failure") if
// err is nil), then delegates to next. It is the harness's fault-injection
// primitive for exercising NodePolicy retry/backoff behavior (SimulateError
// use case).
func FailNTimes(n int, err error, next penguiflow.Handler) penguiflow.Handler {
	if err == nil {
		err = fmt.Errorf("testkit: injected failure")
	}
	attempts := 0
	return func(ctx *penguiflow.Context, in penguiflow.AnyMessage) penguiflow.NodeResult {
		attempts++
		if attempts <= n {
			return penguiflow.NodeResult{Err: err}
		}
		return next(ctx, in)
	}
}

// SimulateError returns a penguiflow.Handler that fails every invocation with
// err (default fmt.Errorf("testkit: simulated error") if err is nil),
// regardless of attempt count; used to test NodePolicy exhaustion and the resulting
// FlowError(NODE_FAILED)/FlowError(TIMEOUT) paths without relying on a real
// downstream failure.
func SimulateError(err error) penguiflow.Handler {
	if err == nil {
		err = fmt.Errorf("testkit: simulated error")
	}
	return func(ctx *penguiflow.Context, in penguiflow.AnyMessage) penguiflow.NodeResult {
		return penguiflow.NodeResult{Err: err}
	}
}

// RecordingMiddleware accumulates every FlowEvent it observes, for use with
// AssertNodeSequence and ad-hoc event assertions in tests. It is safe for
// concurrent use.
type RecordingMiddleware struct {
	events chan penguiflow.FlowEvent
	drained []penguiflow.FlowEvent
}

// NewRecordingMiddleware returns a RecordingMiddleware buffering up to
// capacity events before OnEvent starts blocking; tests should size capacity
// generously above the expected event count.
func NewRecordingMiddleware(capacity int) *RecordingMiddleware {
	return &RecordingMiddleware{events: make(chan penguiflow.FlowEvent, capacity)}
}

// OnEvent implements penguiflow.Middleware.
func (r *RecordingMiddleware) OnEvent(event penguiflow.FlowEvent) penguiflow.FlowEvent {
	r.events <- event
	return event
}

// Drain returns every event recorded so far, draining the internal channel.
// Call after the flow under test has been stopped or after a deterministic
// quiescence point.
func (r *RecordingMiddleware) Drain() []penguiflow.FlowEvent {
	for {
		select {
		case ev := <-r.events:
			r.drained = append(r.drained, ev)
		default:
			return r.drained
		}
	}
}
