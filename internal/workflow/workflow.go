package workflow

import (
	"time"

	"github.com/operon-dev/operon/pkg/schema"
)

// Step is one unit of a workflow's ordered sequence.
type Step struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      schema.Status `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Workflow is an ordered sequence of steps executed as a single unit.
// The step sequence is fixed at creation and never reordered. Workflow status
// is a deterministic function of its steps: running while any step is
// running/pending and none has failed, completed iff all steps completed,
// failed iff any step failed (later steps stay pending, never executed).
type Workflow struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Type        schema.WorkflowType `json:"type"`
	Status      schema.Status       `json:"status"`
	Steps       []*Step             `json:"steps"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Result      map[string]any      `json:"result,omitempty"`
}

func (s *Step) clone() *Step {
	cp := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// clone returns a deep copy so no caller holds a mutable reference into
// engine-owned state.
func (w *Workflow) clone() *Workflow {
	cp := *w
	cp.Steps = make([]*Step, len(w.Steps))
	for i, s := range w.Steps {
		cp.Steps[i] = s.clone()
	}
	if w.Result != nil {
		cp.Result = make(map[string]any, len(w.Result))
		for k, v := range w.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}
