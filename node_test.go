package penguiflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedAdaptsPayloadRoundTrip(t *testing.T) {
	handler := Typed(func(ctx *Context, in Message[int]) ([]Message[int], error) {
		return []Message[int]{WithPayload(in, in.Payload*2)}, nil
	})

	in := NewMessage[any](21)
	ctx := &Context{ctx: context.TODO(), node: "double", in: in}
	result := handler(ctx, in)

	require.NoError(t, result.Err)
	require.Len(t, result.Out, 1)
	assert.Equal(t, 42, result.Out[0].Payload)
	assert.Equal(t, in.TraceID, result.Out[0].TraceID)
}

func TestTypedReturnsValidationErrorOnTypeMismatch(t *testing.T) {
	handler := Typed(func(ctx *Context, in Message[int]) ([]Message[int], error) {
		return nil, nil
	})

	in := NewMessage[any]("not an int")
	ctx := &Context{ctx: context.TODO(), node: "expects-int", in: in}
	result := handler(ctx, in)

	require.Error(t, result.Err)
	var fe *FlowError
	require.ErrorAs(t, result.Err, &fe)
	assert.Equal(t, CodeValidation, fe.Code)
}

func TestTypedPropagatesHandlerError(t *testing.T) {
	wantErr := errors.New("boom")
	handler := Typed(func(ctx *Context, in Message[int]) ([]Message[int], error) {
		return nil, wantErr
	})

	in := NewMessage[any](1)
	ctx := &Context{ctx: context.TODO(), node: "n", in: in}
	result := handler(ctx, in)

	assert.ErrorIs(t, result.Err, wantErr)
}

func TestNodeToAppendsSuccessors(t *testing.T) {
	n := NewNode("a", func(ctx *Context, in AnyMessage) NodeResult { return NodeResult{} })
	n.To("b").To("c", "d")

	assert.Equal(t, []string{"b", "c", "d"}, n.Successors())
}

func TestNewNodePanicsOnNilHandler(t *testing.T) {
	assert.Panics(t, func() {
		NewNode("a", nil)
	})
}
