// Package validation checks workflow definitions before they are submitted
// for execution. It runs a three-stage pipeline: structural (JSON Schema),
// semantic (references and action registration), and graph (cycle detection).
package validation

import (
	"errors"

	"github.com/skein-dev/skein/internal/graph"
	"github.com/skein-dev/skein/pkg/schema"
)

// WorkflowValidator orchestrates the validation pipeline. The engine runs
// its own graph preflight on submission; this validator exists for callers
// that want full diagnostics up front, such as the CLI validate command.
type WorkflowValidator struct {
	structural *JSONSchemaValidator
	actions    ActionLookup
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to
// skip action existence checks.
func NewWorkflowValidator(lookup ActionLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{structural: jsv, actions: lookup}, nil
}

// Validate runs all three stages and returns the aggregated result.
// Structural errors short-circuit: the later stages assume a well-shaped
// definition.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *Result {
	result := wv.structural.ValidateDefinition(def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.actions))
	if result.Valid() {
		result.Merge(validateCycles(def))
	}
	return result
}

// ValidateDefinition collapses Validate into a single error.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// validateCycles reuses the topological conversion: a definition that cannot
// be ordered carries a cycle.
func validateCycles(def *schema.WorkflowDefinition) *Result {
	result := &Result{}
	if _, err := graph.ConvertToSteps(def); err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) {
			result.AddError("/connections", engineErr.Code, engineErr.Message)
			return result
		}
		result.AddError("/connections", schema.ErrCodeInvalidDefinition, err.Error())
	}
	return result
}
