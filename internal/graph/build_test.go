package graph

import (
	"testing"

	"github.com/skein-dev/skein/pkg/schema"
)

func TestBuildGraphAdjacencyCompleteness(t *testing.T) {
	def := definition(
		[]schema.Node{actionNode("a"), actionNode("b"), actionNode("c"), actionNode("isolated")},
		[]schema.Connection{conn("a", "b"), conn("a", "c"), conn("b", "c")},
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every node ID appears as a key in both maps, even with no edges.
	for _, node := range def.Nodes {
		if _, ok := g.Adjacency[node.ID]; !ok {
			t.Errorf("node %s missing from adjacency", node.ID)
		}
		if _, ok := g.Reverse[node.ID]; !ok {
			t.Errorf("node %s missing from reverse adjacency", node.ID)
		}
	}

	// Adjacency must be the exact inverse of reverse adjacency.
	for source, succs := range g.Adjacency {
		for _, target := range succs {
			if !contains(g.Reverse[target], source) {
				t.Errorf("edge %s→%s present in adjacency but not reverse", source, target)
			}
		}
	}
	for target, preds := range g.Reverse {
		for _, source := range preds {
			if !contains(g.Adjacency[source], target) {
				t.Errorf("edge %s→%s present in reverse but not adjacency", source, target)
			}
		}
	}
}

func TestBuildGraphRoots(t *testing.T) {
	def := definition(
		[]schema.Node{actionNode("a"), actionNode("b"), actionNode("c")},
		[]schema.Connection{conn("a", "c"), conn("b", "c")},
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	roots := g.Roots()
	if len(roots) != 2 || !contains(roots, "a") || !contains(roots, "b") {
		t.Fatalf("expected roots [a b], got %v", roots)
	}
}

func TestBuildGraphDanglingTarget(t *testing.T) {
	def := definition(
		[]schema.Node{actionNode("a")},
		[]schema.Connection{conn("a", "missing")},
	)
	_, err := BuildGraph(def)
	assertCode(t, err, schema.ErrCodeInvalidDefinition)
}

func TestBuildGraphIncomingOutgoing(t *testing.T) {
	def := definition(
		[]schema.Node{actionNode("a"), actionNode("b"), actionNode("c")},
		[]schema.Connection{
			{Source: "a", Target: "b", Condition: "output.ok == true"},
			{Source: "a", Target: "c"},
		},
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Outgoing["a"]) != 2 {
		t.Fatalf("expected 2 outgoing connections from a, got %d", len(g.Outgoing["a"]))
	}
	if len(g.Incoming["b"]) != 1 || g.Incoming["b"][0].Condition == "" {
		t.Fatalf("conditional incoming edge lost: %+v", g.Incoming["b"])
	}
}

func TestHasConditionalConnections(t *testing.T) {
	plain := definition(
		[]schema.Node{actionNode("a"), actionNode("b")},
		[]schema.Connection{conn("a", "b")},
	)
	if HasConditionalConnections(plain) {
		t.Fatal("plain definition reported conditional connections")
	}

	conditional := definition(
		[]schema.Node{actionNode("a"), actionNode("b")},
		[]schema.Connection{{Source: "a", Target: "b", Condition: "output.count > 0"}},
	)
	if !HasConditionalConnections(conditional) {
		t.Fatal("conditional definition not detected")
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
