package penguiflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageAssignsTraceID(t *testing.T) {
	m := NewMessage("payload")
	require.NotEmpty(t, m.TraceID)
	assert.Equal(t, "payload", m.Payload)
	assert.NotNil(t, m.Headers)
	assert.NotNil(t, m.Meta)
}

func TestMessageExpired(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name     string
		deadline time.Time
		want     bool
	}{
		{"zero deadline never expires", time.Time{}, false},
		{"future deadline not expired", now.Add(time.Hour), false},
		{"past deadline expired", now.Add(-time.Hour), true},
		{"deadline exactly now is expired", now, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Message[string]{DeadlineAt: tc.deadline}
			assert.Equal(t, tc.want, m.Expired(now))
		})
	}
}

func TestWithPayloadPreservesEnvelope(t *testing.T) {
	in := NewMessage(42)
	in.Headers["tenant"] = "acme"
	in.Meta["hop"] = 1

	out := WithPayload(in, "forty-two")

	assert.Equal(t, "forty-two", out.Payload)
	assert.Equal(t, in.TraceID, out.TraceID)
	assert.Equal(t, "acme", out.Headers["tenant"])
	assert.Equal(t, 1, out.Meta["hop"])
}

func TestWithPayloadDoesNotAliasMaps(t *testing.T) {
	in := NewMessage(1)
	in.Headers["k"] = "v"

	out := WithPayload(in, 2)
	out.Headers["k"] = "mutated"

	assert.Equal(t, "v", in.Headers["k"])
}

func TestWithMetaMerges(t *testing.T) {
	m := NewMessage("x").WithMeta(map[string]any{"a": 1})
	m2 := m.WithMeta(map[string]any{"b": 2})

	assert.Equal(t, 1, m2.Meta["a"])
	assert.Equal(t, 2, m2.Meta["b"])
	assert.Len(t, m.Meta, 1, "original message's meta must not be mutated")
}

func TestWithHeadersMerges(t *testing.T) {
	m := NewMessage("x").WithHeaders(map[string]string{"a": "1"})
	m2 := m.WithHeaders(map[string]string{"b": "2"})

	assert.Equal(t, "1", m2.Headers["a"])
	assert.Equal(t, "2", m2.Headers["b"])
	assert.Len(t, m.Headers, 1)
}
