package penguiflow

import (
	"context"
	"fmt"
	"time"
)

// eventSink is the minimal callback the retry engine needs from the
// runtime: emit one FlowEvent for the node/trace currently executing. The
// runtime supplies attempt/latency/extra; NodeName/TraceID are filled in by
// the caller (flow.go) since this file has no knowledge of queue depths or
// per-trace accounting.
type eventSink func(evType EventType, attempt int, latencyMs float64, extra map[string]any)

// runWithPolicy executes the node's handler, applying NodePolicy's per-attempt
// timeout, schema validation, and retry/backoff:
//
//	attempt ← 1
//	loop:
//	  try: with timeout(policy.timeout_s): value ← await handler(...)
//	       return value
//	  except CancelledError: re-raise
//	  except ValidationError: return FlowError(VALIDATION); do not retry
//	  except e:
//	    if attempt > policy.max_retries: return FlowError(NODE_FAILED, cause=e)
//	    emit_event(node_retry, attempt, …)
//	    delay ← min(base * mult^(attempt-1), max_backoff)
//	    await sleep_cancellable(delay)
//	    attempt += 1
//
// Validation (input side) is checked by the caller before runWithPolicy is
// invoked, since a skipped-handler validation failure never counts as a
// "handler attempt". Output validation is checked here, after a successful
// attempt, since it requires the handler's result.
func runWithPolicy(
	runCtx context.Context,
	node *Node,
	registry *SchemaRegistry,
	pctxFactory func(attemptCtx context.Context) *Context,
	in AnyMessage,
	emit eventSink,
) NodeResult {
	policy := node.Policy
	attempt := 1

	emit(EventNodeStart, attempt, 0, nil)

	for {
		attemptCtx, cancel := withAttemptTimeout(runCtx, policy.Timeout)
		start := time.Now()
		pctx := pctxFactory(attemptCtx)
		result := safeRun(node.handler, pctx, in)
		latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
		cancel()

		if result.Err == nil {
			if policy.Validate == ValidateOut || policy.Validate == ValidateBoth {
				if verr := validateOutputs(node.Name, registry, result.Out); verr != nil {
					emit(EventValidationError, attempt, latencyMs, map[string]any{"error": verr.Error()})
					return NodeResult{Err: verr}
				}
			}
			emit(EventNodeSuccess, attempt, latencyMs, nil)
			return result
		}

		if runCtx.Err() != nil {
			// Cooperative cancellation / flow shutdown: re-raise, no retry.
			return result
		}

		if fe, ok := result.Err.(*FlowError); ok && fe.Code == CodeValidation {
			// Validation errors are terminal, never retried.
			emit(EventValidationError, attempt, latencyMs, map[string]any{"error": fe.Error()})
			return result
		}

		isTimeout := attemptCtx.Err() == context.DeadlineExceeded
		if attempt > policy.MaxRetries {
			code := CodeNodeFailed
			if isTimeout {
				code = CodeTimeout
			}
			fe := newFlowError(code, node.Name, in.TraceID,
				fmt.Sprintf("attempt %d failed, retries exhausted", attempt), result.Err)
			emit(EventNodeFailed, attempt, latencyMs, map[string]any{"error": fe.Error()})
			return NodeResult{Err: fe}
		}

		emit(EventNodeRetry, attempt, latencyMs, map[string]any{"error": result.Err.Error()})
		delay := computeBackoff(attempt, policy.BackoffBase, policy.BackoffMult, policy.MaxBackoff)
		if err := sleepCancellable(runCtx, delay); err != nil {
			return NodeResult{Err: err}
		}
		attempt++
	}
}

// withAttemptTimeout bounds a single attempt per NodePolicy.Timeout,
// returning a no-op cancel func when timeout is zero (unbounded).
func withAttemptTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

// safeRun recovers a handler panic into a NodeFailed-shaped NodeResult so a
// single misbehaving node can never take down its task goroutine.
func safeRun(handler Handler, pctx *Context, in AnyMessage) (result NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = NodeResult{Err: fmt.Errorf("panic in handler %s: %v", pctx.NodeName(), r)}
		}
	}()
	return handler(pctx, in)
}

func validateOutputs(nodeName string, registry *SchemaRegistry, outs []AnyMessage) *FlowError {
	if registry == nil {
		return nil
	}
	v := registry.Output(nodeName)
	if v == nil {
		return nil
	}
	for i, out := range outs {
		normalized, err := v.Validate(out.Payload)
		if err != nil {
			return newFlowError(CodeValidation, nodeName, out.TraceID,
				fmt.Sprintf("output %d failed validation: %v", i, err), err)
		}
		outs[i].Payload = normalized
	}
	return nil
}

func validateInput(nodeName string, registry *SchemaRegistry, in AnyMessage) *FlowError {
	if registry == nil {
		return nil
	}
	v := registry.Input(nodeName)
	if v == nil {
		return nil
	}
	_, err := v.Validate(in.Payload)
	if err != nil {
		return newFlowError(CodeValidation, nodeName, in.TraceID,
			fmt.Sprintf("input failed validation: %v", err), err)
	}
	return nil
}
