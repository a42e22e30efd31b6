// Package expressions provides sandboxed condition evaluation and step
// variable resolution. No host-language code is ever executed.
package expressions

import "context"

// Engine evaluates a routing condition against scoped data.
// Two implementations: CEL (default) and Expr.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Scope variable names exposed to condition expressions.
const (
	// ScopeOutput is the completed source step's recorded output.
	ScopeOutput = "output"
	// ScopeSteps maps step IDs to their recorded outputs.
	ScopeSteps = "steps"
	// ScopeVars holds workflow-scoped variables from the definition.
	ScopeVars = "vars"
)

// NewEngine returns the condition engine for the given language.
// Supported: "cel" (default when empty), "expr".
func NewEngine(language string) (Engine, error) {
	switch language {
	case "", "cel":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	default:
		return nil, errUnknownLanguage(language)
	}
}
