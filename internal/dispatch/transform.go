package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/skein-dev/skein/pkg/schema"
)

const transformInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "input": {}
  },
  "required": ["query"]
}`

// TransformAction implements "data.transform": applies a jq query to the
// "input" param. Single result is returned as {"result": ...}; multiple
// results as {"result": [...], "count": n}.
type TransformAction struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func NewTransformAction() *TransformAction {
	return &TransformAction{cache: make(map[string]*gojq.Code)}
}

func (a *TransformAction) Name() string { return "data.transform" }

func (a *TransformAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Transform the input value with a jq query.",
		InputSchema: json.RawMessage(transformInputSchema),
	}
}

func (a *TransformAction) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	query := stringParam(params, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeActionDispatch, "data.transform: missing required param 'query'")
	}

	code, err := a.compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "data.transform: invalid query %q", query).WithCause(err)
	}

	input := normalizeForJQ(params["input"])

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewError(schema.ErrCodeActionDispatch, "data.transform: query failed").WithCause(err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return map[string]any{"result": nil}, nil
	case 1:
		return map[string]any{"result": results[0]}, nil
	default:
		return map[string]any{"result": results, "count": len(results)}, nil
	}
}

func (a *TransformAction) compile(query string) (*gojq.Code, error) {
	a.mu.RLock()
	code, ok := a.cache[query]
	a.mu.RUnlock()
	if ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, err
	}
	compiled, err := gojq.Compile(parsed)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[query] = compiled
	a.mu.Unlock()
	return compiled, nil
}

// normalizeForJQ round-trips the value through JSON so gojq only sees the
// types it supports (map[string]any, []any, float64, string, bool, nil).
func normalizeForJQ(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
