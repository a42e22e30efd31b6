package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-dev/skein/pkg/schema"
)

type stubLookup struct {
	known map[string]bool
}

func (s *stubLookup) Has(name string) bool { return s.known[name] }

func actionNode(id string) schema.Node {
	return schema.Node{
		ID: id,
		Config: map[string]any{
			"service": "core",
			"action":  "echo",
		},
	}
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []schema.Node{actionNode("a"), actionNode("b")},
		Connections: []schema.Connection{
			{Source: "a", Target: "b"},
		},
	}
}

func errorCodes(r *Result) []string {
	codes := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		codes[i] = issue.Code
	}
	return codes
}

// --- structural ---

func TestStructuralMinimalValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []schema.Node{{ID: "only"}},
	}
	assert.True(t, v.ValidateDefinition(def).Valid())
}

func TestStructuralNilDefinition(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	result := v.ValidateDefinition(nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestStructuralMissingNodes(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	result := v.ValidateDefinition(&schema.WorkflowDefinition{ID: "wf-1"})
	require.False(t, result.Valid())
	assert.Contains(t, errorCodes(result), schema.ErrCodeInvalidDefinition)
}

func TestStructuralEmptyNodeID(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []schema.Node{{ID: ""}},
	}
	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, "nodes")
}

func TestStructuralUnknownNodeType(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []schema.Node{{ID: "a", Type: "teleport"}},
	}
	assert.False(t, v.ValidateDefinition(def).Valid())
}

// --- semantic ---

func TestSemanticValid(t *testing.T) {
	lookup := &stubLookup{known: map[string]bool{"core.echo": true}}
	result := validateSemantic(validDefinition(), lookup)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemanticDuplicateNodeID(t *testing.T) {
	def := validDefinition()
	def.Nodes = append(def.Nodes, actionNode("a"))

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `duplicate node id "a"`)
}

func TestSemanticDanglingConnection(t *testing.T) {
	def := validDefinition()
	def.Connections = append(def.Connections, schema.Connection{Source: "a", Target: "ghost"})

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `"ghost"`)
	assert.Contains(t, result.Errors[0].Path, ".target")
}

func TestSemanticSelfLoop(t *testing.T) {
	def := validDefinition()
	def.Connections = append(def.Connections, schema.Connection{Source: "a", Target: "a"})

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, errorCodes(result), schema.ErrCodeCyclicGraph)
}

func TestSemanticActionNotRegistered(t *testing.T) {
	lookup := &stubLookup{known: map[string]bool{}}
	result := validateSemantic(validDefinition(), lookup)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `"core.echo"`)
	assert.Equal(t, schema.ErrCodeActionDispatch, result.Errors[0].Code)
}

func TestSemanticActionMissingDispatchKeys(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []schema.Node{{ID: "a", Config: map[string]any{"service": "core"}}},
	}
	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "requires")
}

func TestSemanticNilLookupSkipsActionCheck(t *testing.T) {
	result := validateSemantic(validDefinition(), nil)
	assert.True(t, result.Valid())
}

func TestSemanticReferenceToUnknownNode(t *testing.T) {
	def := validDefinition()
	def.Nodes[1].Config["message"] = "value is ${ghost.output}"

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "${ghost.output}")
}

func TestSemanticSelfReference(t *testing.T) {
	def := validDefinition()
	def.Nodes[0].Config["message"] = "${a.result}"

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "own output")
}

func TestSemanticNestedReferenceCollection(t *testing.T) {
	def := validDefinition()
	def.Nodes[1].Config["payload"] = map[string]any{
		"items": []any{"${a.result}", map[string]any{"deep": "${missing.key}"}},
	}

	result := validateSemantic(def, nil)
	require.False(t, result.Valid())
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "${missing.key}")
}

// --- pipeline ---

func TestValidatePipelineValid(t *testing.T) {
	wv, err := NewWorkflowValidator(&stubLookup{known: map[string]bool{"core.echo": true}})
	require.NoError(t, err)

	result := wv.Validate(validDefinition())
	assert.True(t, result.Valid())
	assert.NoError(t, result.ToError())
}

func TestValidatePipelineStructuralShortCircuits(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	// Dangling connection would also fail semantic; structural failure on
	// the missing workflow ID must be the only stage reported.
	def := &schema.WorkflowDefinition{
		Nodes:       []schema.Node{actionNode("a")},
		Connections: []schema.Connection{{Source: "a", Target: "ghost"}},
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "ghost")
	}
}

func TestValidatePipelineDetectsCycle(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Connections = append(def.Connections, schema.Connection{Source: "b", Target: "a"})

	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, errorCodes(result), schema.ErrCodeCyclicGraph)
}

func TestValidateDefinitionCollapsesToEngineError(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Nodes = append(def.Nodes, actionNode("a"))

	err = wv.ValidateDefinition(def)
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeInvalidDefinition, engineErr.Code)
	violations, ok := engineErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestResultMergeAndToError(t *testing.T) {
	r := &Result{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())

	other := &Result{}
	other.AddError("nodes[0]", schema.ErrCodeInvalidDefinition, "first")
	other.AddWarning("nodes[1]", schema.ErrCodeInvalidDefinition, "later")
	r.Merge(other)

	require.False(t, r.Valid())
	assert.Len(t, r.Warnings, 1)

	r.AddError("nodes[2]", schema.ErrCodeInvalidDefinition, "second")
	err := r.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 problems")
}
