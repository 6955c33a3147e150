package ops

import (
	"time"

	"github.com/operon-dev/operon/pkg/schema"
)

// LogEntry is one timestamped line in an operation's append-only log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Operation is a tracked asynchronous unit of work.
// Invariants: CompletedAt is set iff Status is terminal; completion forces
// Progress to 100; failed/cancelled freeze progress at its last value.
type Operation struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	Status      schema.Status `json:"status"`
	Progress    int           `json:"progress"`
	Logs        []LogEntry    `json:"logs"`
	Result      any           `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// clone returns a deep copy so no caller holds a mutable reference into
// store-owned state.
func (o *Operation) clone() *Operation {
	cp := *o
	cp.Logs = make([]LogEntry, len(o.Logs))
	copy(cp.Logs, o.Logs)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Metadata describes a new operation at creation time. Status always starts
// pending; initial result/error fields are not accepted.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Update specifies mutable descriptive fields of an operation. Lifecycle
// changes go through the named store operations, not Update.
type Update struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}
