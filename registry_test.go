package penguiflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaRegistryReturnsNilWhenUnregistered(t *testing.T) {
	r := NewSchemaRegistry()
	assert.Nil(t, r.Input("unknown"))
	assert.Nil(t, r.Output("unknown"))
}

func TestSchemaRegistryRegisterAndLookup(t *testing.T) {
	r := NewSchemaRegistry()
	in := ValidatorFunc(func(v any) (any, error) { return v, nil })
	out := ValidatorFunc(func(v any) (any, error) { return nil, errors.New("bad") })
	r.Register("node", in, out)

	assert.NotNil(t, r.Input("node"))
	assert.NotNil(t, r.Output("node"))

	_, err := r.Output("node").Validate("anything")
	assert.Error(t, err)
}
