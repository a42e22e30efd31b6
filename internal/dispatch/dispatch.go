// Package dispatch maps step action types to executable handlers. The
// engine hands a resolved step config to the Dispatcher and receives the
// step's output map back.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/skein-dev/skein/pkg/schema"
)

// Dispatcher executes one action on behalf of a step. Implementations must
// be safe for concurrent use: the engine calls Execute from multiple step
// goroutines at once.
type Dispatcher interface {
	Execute(ctx context.Context, service, action string, params map[string]any) (map[string]any, error)
}

// Action is an executable unit of work addressed as "service.action".
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// ActionSchema describes the input contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is the concrete thread-safe Dispatcher implementation.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

var _ Dispatcher = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeInvalidDefinition, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeInvalidDefinition, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}
	r.actions[name] = action
	return nil
}

// Get retrieves an action by its "service.action" name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "action %q not registered", name)
	}
	return action, nil
}

// Has reports whether an action is registered under the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Execute looks up "service.action" and runs it.
func (r *Registry) Execute(ctx context.Context, service, action string, params map[string]any) (map[string]any, error) {
	name := service + "." + action
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	out, err := a.Execute(ctx, params)
	if err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "action %q failed", name).WithCause(err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
