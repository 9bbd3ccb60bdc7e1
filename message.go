package penguiflow

import (
	"time"

	"github.com/google/uuid"
)

// Message is the immutable envelope carried across floes. Type parameter T
// is the payload type flowing through a particular edge; nodes that accept
// Message[T] and return Message[T] are expected to preserve TraceID, Headers
// and the keys already present in Meta unless they explicitly overwrite
// them (see the WithPayload/WithMeta/WithHeaders helpers below).
type Message[T any] struct {
	// Payload is the typed value carried by this hop. It must satisfy the
	// input schema of the consuming node when validation is enabled.
	Payload T

	// TraceID uniquely identifies one end-to-end execution through the
	// graph. It is preserved across all transformations.
	TraceID string

	// Headers carries routing/auth metadata (tenant, topic, and any
	// host-defined routing keys). Preserved unless explicitly overwritten.
	Headers map[string]string

	// DeadlineAt, if non-zero, is the absolute time past which this
	// message MUST NOT be processed. An expired deadline short-circuits
	// execution before the node handler runs.
	DeadlineAt time.Time

	// Meta is a free-form key/value map carrying cumulative telemetry and
	// per-hop annotations. Nodes SHOULD NOT mutate it in place; use
	// WithMeta to produce a new envelope.
	Meta map[string]any
}

// NewMessage constructs a Message with a freshly generated trace id.
func NewMessage[T any](payload T) Message[T] {
	return Message[T]{
		Payload: payload,
		TraceID: uuid.NewString(),
		Headers: map[string]string{},
		Meta:    map[string]any{},
	}
}

// NewTraceID generates a fresh, unique trace identifier. Exposed so callers
// that construct envelopes by hand (rather than via NewMessage) can mint
// ids consistent with the runtime's own generator.
func NewTraceID() string {
	return uuid.NewString()
}

// Expired reports whether the message's deadline, if set, has passed as of
// now.
func (m Message[T]) Expired(now time.Time) bool {
	return !m.DeadlineAt.IsZero() && !now.Before(m.DeadlineAt)
}

// WithPayload returns a copy of m carrying a new payload of a (possibly
// different) type, preserving TraceID, Headers, Meta and DeadlineAt. This is
// the idiomatic way for a node to produce its output envelope: it is the
// generic equivalent of "produce a new envelope with updated payload/meta".
func WithPayload[In, Out any](m Message[In], payload Out) Message[Out] {
	return Message[Out]{
		Payload:    payload,
		TraceID:    m.TraceID,
		Headers:    cloneStringMap(m.Headers),
		DeadlineAt: m.DeadlineAt,
		Meta:       cloneAnyMap(m.Meta),
	}
}

// WithMeta returns a copy of m with additional meta keys merged in (delta
// wins on key collision). The original map is never mutated.
func (m Message[T]) WithMeta(delta map[string]any) Message[T] {
	merged := cloneAnyMap(m.Meta)
	for k, v := range delta {
		merged[k] = v
	}
	m.Meta = merged
	return m
}

// WithHeaders returns a copy of m with additional headers merged in (delta
// wins on key collision).
func (m Message[T]) WithHeaders(delta map[string]string) Message[T] {
	merged := cloneStringMap(m.Headers)
	for k, v := range delta {
		merged[k] = v
	}
	m.Headers = merged
	return m
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
