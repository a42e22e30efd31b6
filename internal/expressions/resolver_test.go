package expressions

import (
	"errors"
	"strings"
	"testing"

	"github.com/skein-dev/skein/pkg/schema"
)

func results() map[string]map[string]any {
	return map[string]map[string]any{
		"fetch": {
			"x":     float64(5),
			"url":   "https://example.com/report",
			"items": []any{"a", "b"},
			"ok":    true,
		},
		"parse_2": {
			"total": float64(42),
		},
	}
}

func TestResolveWholeStringKeepsType(t *testing.T) {
	r := NewResolver()

	val, err := r.ResolveValue("${fetch.x}", results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != float64(5) {
		t.Fatalf("expected typed 5, got %T %v", val, val)
	}

	val, err = r.ResolveValue("${fetch.ok}", results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != true {
		t.Fatalf("expected typed true, got %T %v", val, val)
	}

	val, err = r.ResolveValue("${fetch.items}", results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := val.([]any); !ok {
		t.Fatalf("expected slice, got %T", val)
	}
}

func TestResolveEmbeddedReferences(t *testing.T) {
	r := NewResolver()

	val, err := r.ResolveValue("count=${fetch.x} from ${fetch.url}", results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "count=5 from https://example.com/report" {
		t.Fatalf("unexpected substitution: %q", val)
	}
}

func TestResolveConfigWalksTree(t *testing.T) {
	r := NewResolver()

	config := map[string]any{
		"url": "${fetch.url}",
		"nested": map[string]any{
			"total": "${parse_2.total}",
		},
		"list":  []any{"${fetch.x}", "literal"},
		"count": 3, // untouched non-string
	}

	resolved, err := r.ResolveConfig(config, results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["url"] != "https://example.com/report" {
		t.Fatalf("url not resolved: %v", resolved["url"])
	}
	nested := resolved["nested"].(map[string]any)
	if nested["total"] != float64(42) {
		t.Fatalf("nested total not resolved: %v", nested["total"])
	}
	list := resolved["list"].([]any)
	if list[0] != float64(5) || list[1] != "literal" {
		t.Fatalf("list not resolved: %v", list)
	}
	if resolved["count"] != 3 {
		t.Fatalf("non-string value mutated: %v", resolved["count"])
	}
}

func TestResolveMissingStepNamesReference(t *testing.T) {
	r := NewResolver()

	_, err := r.ResolveValue("${ghost.x}", results())
	var engErr *schema.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *schema.EngineError, got %T", err)
	}
	if engErr.Code != schema.ErrCodeUnresolvedVariable {
		t.Fatalf("expected unresolved variable code, got %s", engErr.Code)
	}
	if !strings.Contains(engErr.Message, "${ghost.x}") {
		t.Fatalf("error should name the exact reference: %s", engErr.Message)
	}
}

func TestResolveMissingOutputKey(t *testing.T) {
	r := NewResolver()

	_, err := r.ResolveValue("${fetch.missing}", results())
	var engErr *schema.EngineError
	if !errors.As(err, &engErr) || engErr.Code != schema.ErrCodeUnresolvedVariable {
		t.Fatalf("expected unresolved variable error, got %v", err)
	}
	if !strings.Contains(engErr.Message, "${fetch.missing}") {
		t.Fatalf("error should name the exact reference: %s", engErr.Message)
	}
}

func TestResolveIgnoresNonReferenceText(t *testing.T) {
	r := NewResolver()

	// Shell-style and malformed fragments must pass through untouched.
	for _, s := range []string{
		"${HOME}",
		"$fetch.x",
		"${fetch}",
		"price is $5.00",
		"${fetch.x", // unclosed
	} {
		val, err := r.ResolveValue(s, results())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", s, err)
		}
		if val != s {
			t.Fatalf("non-reference %q mutated to %v", s, val)
		}
	}
}

func TestResolveNilConfig(t *testing.T) {
	r := NewResolver()
	resolved, err := r.ResolveConfig(nil, results())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != nil {
		t.Fatalf("expected nil, got %v", resolved)
	}
}
