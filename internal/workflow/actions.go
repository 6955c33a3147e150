package workflow

import (
	"context"
	"sync"

	"github.com/operon-dev/operon/pkg/schema"
)

// Action is the pluggable behavior of a single workflow step, keyed by step
// identity. It receives copies of the workflow and step; engine state is
// mutated only through the engine itself.
type Action func(ctx context.Context, wf *Workflow, step *Step) (output any, err error)

// ActionRegistry is a thread-safe lookup of step actions with a generic
// fallback for unrecognized step ids.
type ActionRegistry struct {
	mu       sync.RWMutex
	actions  map[string]Action
	fallback Action
}

// NewActionRegistry creates a registry whose fallback reports generic success.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]Action),
		fallback: func(ctx context.Context, wf *Workflow, step *Step) (any, error) {
			return map[string]any{"message": step.Name + " completed"}, nil
		},
	}
}

// Register adds an action for a step id. Returns error on duplicate id.
func (r *ActionRegistry) Register(stepID string, action Action) error {
	if stepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step id is empty")
	}
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[stepID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action for step %q already registered", stepID)
	}
	r.actions[stepID] = action
	return nil
}

// Get retrieves the action for a step id, or the generic fallback.
func (r *ActionRegistry) Get(stepID string) Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if action, ok := r.actions[stepID]; ok {
		return action
	}
	return r.fallback
}

// Has checks if a dedicated action is registered for the step id.
func (r *ActionRegistry) Has(stepID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[stepID]
	return ok
}
