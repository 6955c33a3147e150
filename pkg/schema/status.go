package schema

// Event type constants published to the streaming hub.
const (
	EventOperationAdded     = "operation_added"
	EventOperationUpdated   = "operation_updated"
	EventOperationCompleted = "operation_completed"
	EventOperationFailed    = "operation_failed"
	EventOperationCancelled = "operation_cancelled"
	EventOperationRemoved   = "operation_removed"

	EventWorkflowCreated   = "workflow_created"
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowCancelled = "workflow_cancelled"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// Status represents the lifecycle state of an operation, a workflow, or a
// workflow step. The enum is shared: all three use the same terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions can occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
