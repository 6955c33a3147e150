package workflow

import "github.com/operon-dev/operon/pkg/schema"

// validWorkflowTransitions defines the allowed state transitions for workflows.
// There is no cancelled transition for steps: cancellation flips the workflow
// flag only and never interrupts a step already in flight.
var validWorkflowTransitions = map[schema.Status][]schema.Status{
	schema.StatusPending:   {schema.StatusRunning, schema.StatusCancelled},
	schema.StatusRunning:   {schema.StatusCompleted, schema.StatusFailed, schema.StatusCancelled},
	schema.StatusCompleted: {},
	schema.StatusFailed:    {},
	schema.StatusCancelled: {},
}

// validStepTransitions defines the allowed state transitions for steps.
var validStepTransitions = map[schema.Status][]schema.Status{
	schema.StatusPending:   {schema.StatusRunning},
	schema.StatusRunning:   {schema.StatusCompleted, schema.StatusFailed},
	schema.StatusCompleted: {},
	schema.StatusFailed:    {},
	schema.StatusCancelled: {},
}

func isValidTransition(table map[schema.Status][]schema.Status, from, to schema.Status) bool {
	for _, a := range table[from] {
		if a == to {
			return true
		}
	}
	return false
}

// transitionWorkflow validates a workflow state transition.
func transitionWorkflow(workflowID string, from, to schema.Status) error {
	if !isValidTransition(validWorkflowTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
	}
	return nil
}

// transitionStep validates a step state transition.
func transitionStep(workflowID, stepID string, from, to schema.Status) error {
	if !isValidTransition(validStepTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": workflowID, "step_id": stepID, "from": string(from), "to": string(to)})
	}
	return nil
}
