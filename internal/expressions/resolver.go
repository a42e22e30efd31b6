package expressions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/skein-dev/skein/pkg/schema"
)

// referencePattern matches ${stepId.outputKey}. Both identifiers share the
// word character class used for step IDs, so arbitrary text containing "${"
// never matches by accident.
var referencePattern = regexp.MustCompile(`\$\{(\w+)\.(\w+)\}`)

// Resolver substitutes ${stepId.outputKey} references inside step
// configuration using prior steps' recorded outputs. Resolution is a typed
// walk over the configuration tree (strings, maps, lists), applied lazily at
// dispatch time so a step always sees the latest completed output of its
// dependencies.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveConfig resolves every reference in a step's configuration map.
// A missing step or output key fails with an unresolved-variable error naming
// the exact reference text; the caller reports it as that step's failure,
// never the whole workflow's.
func (r *Resolver) ResolveConfig(config map[string]any, stepResults map[string]map[string]any) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}
	resolved, err := r.resolveValue(config, stepResults)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// ResolveValue resolves references in a single configuration value.
func (r *Resolver) ResolveValue(value any, stepResults map[string]map[string]any) (any, error) {
	return r.resolveValue(value, stepResults)
}

func (r *Resolver) resolveValue(value any, stepResults map[string]map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, stepResults)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := r.resolveValue(item, stepResults)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(item, stepResults)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		// Numbers, booleans, nil: nothing to resolve.
		return value, nil
	}
}

// resolveString substitutes all references in one string. A string that is
// exactly one reference resolves to the referenced value with its type
// preserved; embedded references are stringified in place.
func (r *Resolver) resolveString(s string, stepResults map[string]map[string]any) (any, error) {
	match := referencePattern.FindStringSubmatch(s)
	if match == nil {
		return s, nil
	}

	// Whole-string reference: return the typed value.
	if match[0] == s {
		return r.lookup(match[0], match[1], match[2], stepResults)
	}

	var resolveErr error
	out := referencePattern.ReplaceAllStringFunc(s, func(ref string) string {
		if resolveErr != nil {
			return ref
		}
		parts := referencePattern.FindStringSubmatch(ref)
		val, err := r.lookup(ref, parts[1], parts[2], stepResults)
		if err != nil {
			resolveErr = err
			return ref
		}
		return stringify(val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

func (r *Resolver) lookup(ref, stepID, outputKey string, stepResults map[string]map[string]any) (any, error) {
	output, ok := stepResults[stepID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
			"unresolved variable %s: no recorded output for step %s", ref, stepID).
			WithDetails(map[string]any{"reference": ref})
	}
	val, ok := output[outputKey]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
			"unresolved variable %s: step %s has no output key %s", ref, stepID, outputKey).
			WithDetails(map[string]any{"reference": ref})
	}
	return val, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case float64:
		// Trim the float mantissa for whole numbers so embedded references
		// read naturally ("page 5", not "page 5.000000").
		s := fmt.Sprintf("%g", val)
		return s
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
