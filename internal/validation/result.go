package validation

import (
	"fmt"
	"strings"

	"github.com/skein-dev/skein/pkg/schema"
)

// Issue is a single validation finding, anchored to a JSON-pointer-ish path
// into the definition.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Result aggregates validation findings. Errors make the definition
// unrunnable; warnings do not.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether the definition passed with no errors.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) AddError(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

func (r *Result) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// Merge appends another result's findings onto this one.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError collapses the result into a single EngineError, or nil when valid.
// All error messages land in the "violations" detail for programmatic use.
func (r *Result) ToError() error {
	if r.Valid() {
		return nil
	}

	violations := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		violations = append(violations, issue.String())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("definition has %d problems: %s", len(violations), strings.Join(violations, "; "))
	}
	return schema.NewError(r.Errors[0].Code, msg).
		WithDetails(map[string]any{"violations": violations})
}
