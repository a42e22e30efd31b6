// Package graph converts workflow definitions into execution-ready steps and
// builds the adjacency structures the scheduler routes on.
package graph

import (
	"github.com/skein-dev/skein/pkg/schema"
)

// ConvertToSteps turns a definition's nodes into an ordered step list. Each
// node becomes exactly one step. SequenceOrder is assigned by a Kahn
// traversal: nodes whose predecessors are all processed are taken in original
// declaration order, so for every connection (a→b), order(a) < order(b).
//
// The tie-break by declaration order is an implementation choice kept for
// determinism, not an external contract.
func ConvertToSteps(def *schema.WorkflowDefinition) ([]schema.Step, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "workflow definition is nil")
	}

	index := make(map[string]int, len(def.Nodes)) // node ID → declaration index
	for i, node := range def.Nodes {
		if node.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition, "node at index %d has empty ID", i)
		}
		if _, exists := index[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition, "duplicate node ID: %s", node.ID)
		}
		index[node.ID] = i
	}

	inDegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string, len(def.Nodes))
	for _, conn := range def.Connections {
		if _, ok := index[conn.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"connection references unknown source node: %s", conn.Source)
		}
		if _, ok := index[conn.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"connection references unknown target node: %s", conn.Target)
		}
		if conn.Source == conn.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCyclicGraph,
				"node %s connects to itself", conn.Source)
		}
		successors[conn.Source] = append(successors[conn.Source], conn.Target)
		inDegree[conn.Target]++
	}

	// Kahn's algorithm. The ready set is kept sorted by declaration index so
	// ties resolve deterministically.
	ready := make([]string, 0, len(def.Nodes))
	for _, node := range def.Nodes {
		if inDegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	steps := make([]schema.Step, 0, len(def.Nodes))
	order := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]

		node := def.Nodes[index[id]]
		steps = append(steps, stepFromNode(node, order))
		order++

		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = insertByDeclaration(ready, succ, index)
			}
		}
	}

	if len(steps) != len(def.Nodes) {
		// Some node never reached in-degree zero: it sits on a cycle. Name
		// the first such node in declaration order.
		for _, node := range def.Nodes {
			if inDegree[node.ID] > 0 {
				return nil, schema.NewErrorf(schema.ErrCodeCyclicGraph,
					"workflow contains a cycle through node %s", node.ID).WithStep(node.ID)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCyclicGraph, "workflow contains a cycle")
	}

	return steps, nil
}

// stepFromNode maps one node to its execution-ready step. Action nodes pull
// "service" and "action" out of the config; the remaining keys stay as the
// dispatch parameters.
func stepFromNode(node schema.Node, order int) schema.Step {
	typ := node.Type
	if typ == "" {
		typ = schema.NodeTypeAction
	}

	step := schema.Step{
		ID:            node.ID,
		Type:          typ,
		SequenceOrder: order,
	}

	if len(node.Config) > 0 {
		cfg := make(map[string]any, len(node.Config))
		for k, v := range node.Config {
			switch k {
			case "service":
				if s, ok := v.(string); ok {
					step.Service = s
					continue
				}
			case "action":
				if s, ok := v.(string); ok {
					step.Action = s
					continue
				}
			}
			cfg[k] = v
		}
		step.Config = cfg
	}

	return step
}

// insertByDeclaration inserts id into the ready slice keeping it ordered by
// declaration index.
func insertByDeclaration(ready []string, id string, index map[string]int) []string {
	pos := len(ready)
	for i, existing := range ready {
		if index[id] < index[existing] {
			pos = i
			break
		}
	}
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}
