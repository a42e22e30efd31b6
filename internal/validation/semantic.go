package validation

import (
	"fmt"
	"regexp"

	"github.com/skein-dev/skein/pkg/schema"
)

// ActionLookup answers whether a "service.action" name has a registered
// implementation. May be nil to skip action existence checks.
type ActionLookup interface {
	Has(name string) bool
}

var referencePattern = regexp.MustCompile(`\$\{(\w+)\.(\w+)\}`)

// validateSemantic performs the checks JSON Schema cannot express: node ID
// uniqueness, connection endpoint references, action registration, and
// variable references against declared node IDs.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup) *Result {
	result := &Result{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i, node := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[node.ID] {
			result.AddError(path+".id", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		nodeIDs[node.ID] = true
	}

	for i := range def.Nodes {
		validateNodeSemantic(&def.Nodes[i], fmt.Sprintf("nodes[%d]", i), nodeIDs, lookup, result)
	}

	for i, conn := range def.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if !nodeIDs[conn.Source] {
			result.AddError(path+".source", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("references non-existent node %q", conn.Source))
		}
		if !nodeIDs[conn.Target] {
			result.AddError(path+".target", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("references non-existent node %q", conn.Target))
		}
		if conn.Source != "" && conn.Source == conn.Target {
			result.AddError(path, schema.ErrCodeCyclicGraph,
				fmt.Sprintf("node %q connects to itself", conn.Source))
		}
	}

	return result
}

// validateNodeSemantic checks a single node: action dispatch target and the
// ${nodeId.outputKey} references inside its config.
func validateNodeSemantic(node *schema.Node, path string, nodeIDs map[string]bool, lookup ActionLookup, result *Result) {
	nodeType := node.Type
	if nodeType == "" {
		nodeType = schema.NodeTypeAction
	}

	if nodeType == schema.NodeTypeAction {
		service, _ := node.Config["service"].(string)
		action, _ := node.Config["action"].(string)
		switch {
		case service == "" || action == "":
			result.AddError(path+".config", schema.ErrCodeInvalidDefinition,
				`action node requires "service" and "action" config keys`)
		case lookup != nil && !lookup.Has(service+"."+action):
			result.AddError(path+".config.action", schema.ErrCodeActionDispatch,
				fmt.Sprintf("action %q not registered", service+"."+action))
		}
	}

	// References to nodes that do not exist would fail at runtime; references
	// to nodes that exist but never complete resolve to skip-or-fail, which
	// the scheduler handles, so only the former is an error here.
	for _, ref := range collectReferences(node.Config) {
		if !nodeIDs[ref.nodeID] {
			result.AddError(path+".config", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("%s references non-existent node %q", ref.raw, ref.nodeID))
		}
		if ref.nodeID == node.ID {
			result.AddError(path+".config", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("%s references the node's own output", ref.raw))
		}
	}
}

type reference struct {
	raw    string
	nodeID string
}

// collectReferences walks a config tree gathering every ${nodeId.outputKey}
// occurrence in string values.
func collectReferences(value any) []reference {
	var refs []reference
	switch v := value.(type) {
	case string:
		for _, m := range referencePattern.FindAllStringSubmatch(v, -1) {
			refs = append(refs, reference{raw: m[0], nodeID: m[1]})
		}
	case map[string]any:
		for _, elem := range v {
			refs = append(refs, collectReferences(elem)...)
		}
	case []any:
		for _, elem := range v {
			refs = append(refs, collectReferences(elem)...)
		}
	}
	return refs
}
