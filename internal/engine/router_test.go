package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-dev/skein/internal/expressions"
	"github.com/skein-dev/skein/pkg/schema"
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	eng, err := expressions.NewEngine("cel")
	require.NoError(t, err)
	return NewRouter(eng)
}

func TestRouter_EmptyConditionRoutesTrue(t *testing.T) {
	r := newRouter(t)

	fired, err := r.Route(context.Background(), schema.Connection{Source: "a", Target: "b"}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRouter_OutputScope(t *testing.T) {
	r := newRouter(t)
	conn := schema.Connection{Source: "a", Target: "b", Condition: `output.status == "ok"`}

	fired, err := r.Route(context.Background(), conn, map[string]any{"status": "ok"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = r.Route(context.Background(), conn, map[string]any{"status": "error"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestRouter_StepsAndVarsScopes(t *testing.T) {
	r := newRouter(t)
	conn := schema.Connection{
		Source: "b", Target: "c",
		Condition: `steps["a"].count > 2 && vars.env == "prod"`,
	}

	steps := map[string]map[string]any{"a": {"count": 3}}
	vars := map[string]any{"env": "prod"}

	fired, err := r.Route(context.Background(), conn, nil, steps, vars)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRouter_NonBooleanResult(t *testing.T) {
	r := newRouter(t)
	conn := schema.Connection{Source: "a", Target: "b", Condition: `output.count`}

	_, err := r.Route(context.Background(), conn, map[string]any{"count": 3}, nil, nil)
	require.Error(t, err)

	engineErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConditionEval, engineErr.Code)
}

func TestRouter_CompileError(t *testing.T) {
	r := newRouter(t)
	conn := schema.Connection{Source: "a", Target: "b", Condition: `output.count >`}

	_, err := r.Route(context.Background(), conn, nil, nil, nil)
	require.Error(t, err)
}
