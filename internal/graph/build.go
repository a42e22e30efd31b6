package graph

import (
	"github.com/skein-dev/skein/pkg/schema"
)

// ExecutionGraph is the derived adjacency view of a definition. Read-only
// after build; safely shared across workers.
type ExecutionGraph struct {
	Nodes       map[string]schema.Node    // node ID → declaration
	Connections []schema.Connection
	Adjacency   map[string][]string // node ID → successor IDs
	Reverse     map[string][]string // node ID → predecessor IDs

	// Incoming holds, per node, the connections arriving at it. The router
	// walks these to decide readiness vs. skip.
	Incoming map[string][]schema.Connection
	// Outgoing holds, per node, the connections leaving it.
	Outgoing map[string][]schema.Connection
}

// BuildGraph builds forward and reverse adjacency maps in one pass over the
// connections. Every node ID is pre-seeded with an empty successor and
// predecessor list before edges are added, so both maps are complete and
// exact inverses of one another.
func BuildGraph(def *schema.WorkflowDefinition) (*ExecutionGraph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "workflow definition is nil")
	}

	g := &ExecutionGraph{
		Nodes:       make(map[string]schema.Node, len(def.Nodes)),
		Connections: def.Connections,
		Adjacency:   make(map[string][]string, len(def.Nodes)),
		Reverse:     make(map[string][]string, len(def.Nodes)),
		Incoming:    make(map[string][]schema.Connection, len(def.Nodes)),
		Outgoing:    make(map[string][]schema.Connection, len(def.Nodes)),
	}

	for _, node := range def.Nodes {
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition, "duplicate node ID: %s", node.ID)
		}
		g.Nodes[node.ID] = node
		g.Adjacency[node.ID] = []string{}
		g.Reverse[node.ID] = []string{}
	}

	for _, conn := range def.Connections {
		if _, ok := g.Nodes[conn.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"connection references unknown source node: %s", conn.Source)
		}
		if _, ok := g.Nodes[conn.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"connection references unknown target node: %s", conn.Target)
		}
		g.Adjacency[conn.Source] = append(g.Adjacency[conn.Source], conn.Target)
		g.Reverse[conn.Target] = append(g.Reverse[conn.Target], conn.Source)
		g.Outgoing[conn.Source] = append(g.Outgoing[conn.Source], conn)
		g.Incoming[conn.Target] = append(g.Incoming[conn.Target], conn)
	}

	return g, nil
}

// Roots returns the IDs of nodes with no predecessors, the scheduler's
// initial frontier.
func (g *ExecutionGraph) Roots() []string {
	roots := make([]string, 0)
	for id, preds := range g.Reverse {
		if len(preds) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// HasConditionalConnections reports whether any connection carries a
// condition. The scheduler uses this as a cheap pre-check: without
// conditions, readiness is a pure dependency count and skip propagation
// never fires.
func HasConditionalConnections(def *schema.WorkflowDefinition) bool {
	for _, conn := range def.Connections {
		if conn.Condition != "" {
			return true
		}
	}
	return false
}
