// Package governance decides whether an agent may run a given action type.
// The engine consults the gate before dispatching every step.
package governance

import (
	"context"
	"strings"
	"sync"
)

// Verdict is the outcome of a governance check.
type Verdict struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
}

// Gate is consulted before each step dispatch. A denied verdict fails the
// step with a governance error; RequiresApproval pauses the execution until
// the approval is resolved.
type Gate interface {
	CheckAllowed(ctx context.Context, agentID, actionType string) (Verdict, error)
}

// AllowAll permits every action. It is the default gate when no policy is
// configured.
type AllowAll struct{}

var _ Gate = AllowAll{}

func (AllowAll) CheckAllowed(context.Context, string, string) (Verdict, error) {
	return Verdict{Allowed: true}, nil
}

// Rule matches action types by exact name or prefix glob ("net.*"). The
// most specific matching rule wins; exact beats glob, longer glob beats
// shorter.
type Rule struct {
	Pattern          string
	Deny             bool
	RequiresApproval bool
	Reason           string
}

// PolicyGate evaluates static rules per action type. Unmatched actions fall
// back to the configured default.
type PolicyGate struct {
	mu           sync.RWMutex
	rules        []Rule
	defaultAllow bool
}

var _ Gate = (*PolicyGate)(nil)

// NewPolicyGate creates a gate with the given rules. defaultAllow controls
// the verdict for action types no rule matches.
func NewPolicyGate(rules []Rule, defaultAllow bool) *PolicyGate {
	return &PolicyGate{rules: append([]Rule(nil), rules...), defaultAllow: defaultAllow}
}

// AddRule appends a rule at runtime.
func (g *PolicyGate) AddRule(rule Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
}

func (g *PolicyGate) CheckAllowed(_ context.Context, _ string, actionType string) (Verdict, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *Rule
	bestScore := -1
	for i := range g.rules {
		r := &g.rules[i]
		score, ok := matchScore(r.Pattern, actionType)
		if ok && score > bestScore {
			best = r
			bestScore = score
		}
	}

	if best == nil {
		if g.defaultAllow {
			return Verdict{Allowed: true}, nil
		}
		return Verdict{Allowed: false, Reason: "no policy rule matches action type"}, nil
	}
	if best.Deny {
		reason := best.Reason
		if reason == "" {
			reason = "denied by policy"
		}
		return Verdict{Allowed: false, Reason: reason}, nil
	}
	return Verdict{Allowed: true, RequiresApproval: best.RequiresApproval, Reason: best.Reason}, nil
}

// matchScore returns how specifically pattern matches actionType. Exact
// matches score highest; "prefix.*" globs score by prefix length; "*"
// matches everything at the lowest score.
func matchScore(pattern, actionType string) (int, bool) {
	if pattern == actionType {
		return 1 << 16, true
	}
	if pattern == "*" {
		return 0, true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		if strings.HasPrefix(actionType, prefix) {
			return len(prefix), true
		}
	}
	return 0, false
}
