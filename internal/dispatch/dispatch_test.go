package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-dev/skein/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name string
	desc string
	fn   func(ctx context.Context, params map[string]any) (map[string]any, error)
}

func (s *stubAction) Name() string         { return s.name }
func (s *stubAction) Schema() ActionSchema { return ActionSchema{Description: s.desc} }
func (s *stubAction) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	if s.fn != nil {
		return s.fn(ctx, params)
	}
	return map[string]any{"ok": true}, nil
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "test.action"}))

	out, err := reg.Execute(context.Background(), "test", "action", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "dup.a"}))

	err := reg.Register(&stubAction{name: "dup.a"})
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConflict, engineErr.Code)
}

func TestRegistry_ExecuteUnknownAction(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Execute(context.Background(), "missing", "action", nil)
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeActionDispatch, engineErr.Code)
}

func TestRegistry_ExecuteWrapsPlainErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{
		name: "fail.always",
		fn: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}))

	_, err := reg.Execute(context.Background(), "fail", "always", nil)
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeActionDispatch, engineErr.Code)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_NilOutputBecomesEmptyMap(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{
		name: "noop.run",
		fn: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, nil
		},
	}))

	out, err := reg.Execute(context.Background(), "noop", "run", nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "z.last", desc: "last"}))
	require.NoError(t, reg.Register(&stubAction{name: "a.first", desc: "first"}))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a.first", infos[0].Name)
	assert.Equal(t, "z.last", infos[1].Name)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil, HTTPConfig{}))

	for _, name := range []string{"core.log", "core.echo", "core.sleep", "data.transform", "net.http_request"} {
		_, err := reg.Get(name)
		assert.NoError(t, err, name)
	}
}
