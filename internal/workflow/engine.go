package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/operon-dev/operon/internal/logging"
	"github.com/operon-dev/operon/internal/streaming"
	"github.com/operon-dev/operon/pkg/schema"
)

// Listener receives a snapshot of a workflow after every published change.
type Listener func(wf *Workflow)

// Engine owns all workflow records and drives their ordered steps to
// completion. Mutations for a given workflow id are serialized by the engine
// mutex; concurrent executions of different workflows need no coordination.
type Engine struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	order     []string // most-recent-first

	listenerSeq uint64
	listeners   map[uint64]Listener

	registry *ActionRegistry
	hub      streaming.EventHub
	logger   *slog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithHub publishes a StreamEvent at every workflow/step transition.
func WithHub(hub streaming.EventHub) EngineOption {
	return func(e *Engine) { e.hub = hub }
}

// WithLogger replaces the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine dispatching step actions through the registry.
func NewEngine(registry *ActionRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		workflows: make(map[string]*Workflow),
		listeners: make(map[uint64]Listener),
		registry:  registry,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create instantiates a Workflow from a template's ordered step definitions.
// All steps start pending; the workflow starts pending. name defaults to the
// template name.
func (e *Engine) Create(template *schema.WorkflowTemplate, name string) *Workflow {
	if name == "" {
		name = template.Name
	}
	now := time.Now().UTC()

	steps := make([]*Step, 0, len(template.Steps))
	for _, spec := range template.Steps {
		steps = append(steps, &Step{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Status:      schema.StatusPending,
		})
	}

	wf := &Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: template.Description,
		Type:        template.Type,
		Status:      schema.StatusPending,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.order = append([]string{wf.ID}, e.order...)
	snapshot := wf.clone()
	e.mu.Unlock()

	e.publish(context.Background(), snapshot, schema.EventWorkflowCreated, "")
	return snapshot
}

// Execute drives the workflow's steps strictly in order. It never raises an
// error out of step failures: a failed step marks the step and the workflow
// failed, leaves the remaining steps pending, and stops. Only an unknown id
// (NOT_FOUND) or an invalid starting state (INVALID_TRANSITION) returns an
// error.
func (e *Engine) Execute(ctx context.Context, id string) (*Workflow, error) {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found: "+id)
	}
	if err := transitionWorkflow(id, wf.Status, schema.StatusRunning); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	wf.Status = schema.StatusRunning
	wf.UpdatedAt = time.Now().UTC()
	total := len(wf.Steps)
	snapshot := wf.clone()
	e.mu.Unlock()

	ctx = logging.WithWorkflowID(ctx, id)
	e.logger.InfoContext(ctx, "workflow started", slog.Int("steps", total))
	e.publish(ctx, snapshot, schema.EventWorkflowStarted, "")

	for i := 0; i < total; i++ {
		if !e.startStep(ctx, id, i) {
			// Cancelled between steps: the flag flipped, remaining steps stay
			// pending and are never executed.
			return e.Get(id), nil
		}

		e.mu.Lock()
		current, ok := e.workflows[id]
		if !ok {
			// Removed mid-execution.
			e.mu.Unlock()
			return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found: "+id)
		}
		step := current.Steps[i]
		stepID := step.ID
		action := e.registry.Get(stepID)
		wfCopy := current.clone()
		stepCopy := step.clone()
		e.mu.Unlock()

		stepCtx := logging.WithStepID(ctx, stepID)
		output, err := action(stepCtx, wfCopy, stepCopy)

		if err != nil {
			e.failStep(stepCtx, id, i, err.Error())
			return e.Get(id), nil
		}
		e.completeStep(stepCtx, id, i, output)
	}

	e.finishWorkflow(ctx, id)
	return e.Get(id), nil
}

// Cancel flips a running workflow to cancelled. It does not interrupt a step
// already in flight; the execution loop observes the flag before the next
// step. Returns false if the workflow is not currently running.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok || wf.Status != schema.StatusRunning {
		e.mu.Unlock()
		return false
	}
	wf.Status = schema.StatusCancelled
	wf.UpdatedAt = time.Now().UTC()
	snapshot := wf.clone()
	e.mu.Unlock()

	e.publish(context.Background(), snapshot, schema.EventWorkflowCancelled, "")
	return true
}

// Get returns a copy of the workflow, or nil if unknown.
func (e *Engine) Get(id string) *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil
	}
	return wf.clone()
}

// List returns copies of all workflows, most-recent-first.
func (e *Engine) List() []*Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Workflow, 0, len(e.order))
	for _, id := range e.order {
		if wf, ok := e.workflows[id]; ok {
			out = append(out, wf.clone())
		}
	}
	return out
}

// Remove deletes the workflow record entirely. Silent no-op on unknown id.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[id]; !ok {
		return
	}
	delete(e.workflows, id)
	for i, wid := range e.order {
		if wid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Subscribe registers a listener invoked after every published change.
// The returned function removes the listener.
func (e *Engine) Subscribe(listener Listener) func() {
	e.mu.Lock()
	e.listenerSeq++
	id := e.listenerSeq
	e.listeners[id] = listener
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// startStep marks step i running if the workflow is still running.
// Returns false when the workflow was cancelled between steps.
func (e *Engine) startStep(ctx context.Context, id string, i int) bool {
	now := time.Now().UTC()

	e.mu.Lock()
	wf := e.workflows[id]
	if wf == nil || wf.Status != schema.StatusRunning {
		e.mu.Unlock()
		return false
	}
	step := wf.Steps[i]
	if err := transitionStep(id, step.ID, step.Status, schema.StatusRunning); err != nil {
		e.mu.Unlock()
		return false
	}
	step.Status = schema.StatusRunning
	step.StartedAt = &now
	wf.UpdatedAt = now
	stepID := step.ID
	snapshot := wf.clone()
	e.mu.Unlock()

	e.publish(ctx, snapshot, schema.EventStepStarted, stepID)
	return true
}

// completeStep records a successful step and lifts a deployUrl output into
// the workflow-level result.
func (e *Engine) completeStep(ctx context.Context, id string, i int, output any) {
	now := time.Now().UTC()

	e.mu.Lock()
	wf := e.workflows[id]
	if wf == nil {
		e.mu.Unlock()
		return
	}
	step := wf.Steps[i]
	step.Status = schema.StatusCompleted
	step.Output = output
	step.CompletedAt = &now
	wf.UpdatedAt = now
	if m, ok := output.(map[string]any); ok {
		if url, ok := m["deployUrl"].(string); ok && url != "" {
			if wf.Result == nil {
				wf.Result = make(map[string]any)
			}
			wf.Result["deployUrl"] = url
		}
	}
	stepID := step.ID
	snapshot := wf.clone()
	e.mu.Unlock()

	e.publish(ctx, snapshot, schema.EventStepCompleted, stepID)
}

// failStep records a failed step and fails the workflow. Remaining steps stay
// pending.
func (e *Engine) failStep(ctx context.Context, id string, i int, errMsg string) {
	now := time.Now().UTC()

	e.mu.Lock()
	wf := e.workflows[id]
	if wf == nil {
		e.mu.Unlock()
		return
	}
	step := wf.Steps[i]
	step.Status = schema.StatusFailed
	step.Error = errMsg
	step.CompletedAt = &now
	wf.Status = schema.StatusFailed
	wf.UpdatedAt = now
	stepID := step.ID
	snapshot := wf.clone()
	e.mu.Unlock()

	e.logger.ErrorContext(ctx, "workflow step failed", slog.String("error", errMsg))
	e.publish(ctx, snapshot, schema.EventStepFailed, stepID)
	e.publish(ctx, snapshot, schema.EventWorkflowFailed, "")
}

// finishWorkflow marks the workflow completed if it is still running after
// the last step.
func (e *Engine) finishWorkflow(ctx context.Context, id string) {
	e.mu.Lock()
	wf := e.workflows[id]
	if wf == nil || wf.Status != schema.StatusRunning {
		e.mu.Unlock()
		return
	}
	wf.Status = schema.StatusCompleted
	wf.UpdatedAt = time.Now().UTC()
	snapshot := wf.clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "workflow completed")
	e.publish(ctx, snapshot, schema.EventWorkflowCompleted, "")
}

// publish delivers the snapshot to listeners (panic-isolated) and the hub.
func (e *Engine) publish(ctx context.Context, snapshot *Workflow, eventType, stepID string) {
	e.mu.Lock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		e.deliver(l, snapshot)
	}

	if e.hub != nil {
		_ = e.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
			WorkflowID: snapshot.ID,
			StepID:     stepID,
			EventType:  eventType,
			Payload:    snapshot,
		})
	}
}

func (e *Engine) deliver(l Listener, snapshot *Workflow) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow listener panicked", slog.Any("panic", r))
		}
	}()
	l(snapshot)
}
