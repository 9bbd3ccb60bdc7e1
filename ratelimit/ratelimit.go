// Package ratelimit wraps golang.org/x/time/rate into a node-wrapping
// Handler decorator, for nodes that front a rate-limited external resource
// (an LLM API, a quota-bound tool backend).
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/penguiflow/penguiflow"
)

// Limiter wraps a rate.Limiter around a penguiflow.Handler: every
// invocation waits for a token before calling through, honoring the
// invocation's own context for cancellation.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter allowing eventsPerSecond steady-state, with burst
// additional tokens available immediately.
func New(eventsPerSecond float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Wrap decorates next so every invocation first waits on the limiter.
func (l *Limiter) Wrap(next penguiflow.Handler) penguiflow.Handler {
	return func(ctx *penguiflow.Context, in penguiflow.AnyMessage) penguiflow.NodeResult {
		if err := l.limiter.Wait(ctx.Context()); err != nil {
			return penguiflow.NodeResult{Err: err}
		}
		return next(ctx, in)
	}
}

// AllowBurst reports whether n events may be admitted immediately without
// waiting, without consuming any tokens — useful for health checks and
// admission-control decisions ahead of a full Wrap call.
func (l *Limiter) AllowBurst(n int) bool {
	return l.limiter.TokensAt(time.Now()) >= float64(n)
}
