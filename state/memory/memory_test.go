package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penguiflow/penguiflow"
)

func TestStoreSaveEventAppendsPerTrace(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, penguiflow.StoredEvent{TraceID: "t1", Kind: penguiflow.EventNodeStart, Ts: time.Now()}))
	require.NoError(t, s.SaveEvent(ctx, penguiflow.StoredEvent{TraceID: "t1", Kind: penguiflow.EventNodeSuccess, Ts: time.Now()}))
	require.NoError(t, s.SaveEvent(ctx, penguiflow.StoredEvent{TraceID: "t2", Kind: penguiflow.EventNodeStart, Ts: time.Now()}))

	history, err := s.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, penguiflow.EventNodeStart, history[0].Kind)
	assert.Equal(t, penguiflow.EventNodeSuccess, history[1].Kind)
}

func TestStoreLoadHistoryUnknownTraceReturnsEmpty(t *testing.T) {
	s := New()
	history, err := s.LoadHistory(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStoreSaveRemoteBindingRoundTrips(t *testing.T) {
	s := New()
	binding := penguiflow.RemoteBinding{TraceID: "t1", ContextID: "c1", TaskID: "task1", AgentURL: "https://agent.example"}
	require.NoError(t, s.SaveRemoteBinding(context.Background(), binding))

	got, ok := s.Binding("t1")
	require.True(t, ok)
	assert.Equal(t, binding, got)
}
