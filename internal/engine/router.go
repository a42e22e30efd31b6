package engine

import (
	"context"
	"fmt"

	"github.com/skein-dev/skein/internal/expressions"
	"github.com/skein-dev/skein/pkg/schema"
)

// Router decides whether an edge fires after its source step completes.
type Router struct {
	engine expressions.Engine
}

func NewRouter(engine expressions.Engine) *Router {
	return &Router{engine: engine}
}

// Route evaluates the connection's condition against the source step's
// output, all recorded step outputs, and workflow-scoped variables. An
// absent condition always routes true. A non-boolean result is a condition
// error.
func (r *Router) Route(ctx context.Context, conn schema.Connection, output map[string]any, steps map[string]map[string]any, vars map[string]any) (bool, error) {
	if conn.Condition == "" {
		return true, nil
	}

	stepScope := make(map[string]any, len(steps))
	for id, out := range steps {
		stepScope[id] = out
	}

	result, err := r.engine.Evaluate(ctx, conn.Condition, map[string]any{
		expressions.ScopeOutput: anyMap(output),
		expressions.ScopeSteps:  stepScope,
		expressions.ScopeVars:   anyMap(vars),
	})
	if err != nil {
		return false, err
	}

	routed, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeConditionEval,
			"condition %q evaluated to non-boolean %T", conn.Condition, result).
			WithDetails(map[string]any{"result": fmt.Sprintf("%v", result)})
	}
	return routed, nil
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
