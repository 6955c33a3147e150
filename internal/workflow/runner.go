package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/operon-dev/operon/internal/logging"
	"github.com/operon-dev/operon/internal/ops"
	"github.com/operon-dev/operon/pkg/schema"
)

// TemplateResolver resolves template ids. Satisfied by the catalog.
type TemplateResolver interface {
	Get(ctx context.Context, id string) (*schema.WorkflowTemplate, error)
}

// Runner ties template resolution, workflow execution and operation tracking
// together. Every run gets a companion operation whose progress mirrors the
// fraction of completed steps.
type Runner struct {
	engine   *Engine
	catalog  TemplateResolver
	opsStore *ops.Store
	logger   *slog.Logger
}

// NewRunner creates a Runner. opsStore may be nil to skip operation tracking.
func NewRunner(engine *Engine, catalog TemplateResolver, opsStore *ops.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Runner{engine: engine, catalog: catalog, opsStore: opsStore, logger: logger}
}

// Engine exposes the underlying engine for direct queries.
func (r *Runner) Engine() *Engine { return r.engine }

// RunTemplate runs a workflow from a template synchronously. Step failures do
// not surface as errors; the workflow record carries them.
func (r *Runner) RunTemplate(ctx context.Context, templateID, name string) error {
	_, err := r.Run(ctx, templateID, name)
	return err
}

// Run resolves the template, creates the workflow, executes it to a terminal
// state and returns the final record.
func (r *Runner) Run(ctx context.Context, templateID, name string) (*Workflow, error) {
	wf, opID, err := r.prepare(ctx, templateID, name)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, wf.ID, opID)
}

// Start launches a run in the background and returns immediately with the new
// workflow and operation ids.
func (r *Runner) Start(ctx context.Context, templateID, name string) (workflowID, operationID string, err error) {
	wf, opID, err := r.prepare(ctx, templateID, name)
	if err != nil {
		return "", "", err
	}

	// Detach from the caller's lifetime; the run owns its own context.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.execute(runCtx, wf.ID, opID); err != nil {
			r.logger.Error("background workflow run failed",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return wf.ID, opID, nil
}

func (r *Runner) prepare(ctx context.Context, templateID, name string) (*Workflow, string, error) {
	tpl, err := r.catalog.Get(ctx, templateID)
	if err != nil {
		return nil, "", err
	}
	wf := r.engine.Create(tpl, name)

	var opID string
	if r.opsStore != nil {
		opID = r.opsStore.Add(ops.Metadata{
			Name:        wf.Name,
			Description: "workflow " + wf.ID + " (" + templateID + ")",
			Category:    string(wf.Type),
		})
	}
	return wf, opID, nil
}

func (r *Runner) execute(ctx context.Context, workflowID, opID string) (*Workflow, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if opID != "" {
		ctx = logging.WithOperationID(ctx, opID)
	}

	var unsub func()
	if r.opsStore != nil {
		tracker := &progressTracker{store: r.opsStore, opID: opID, seen: make(map[string]schema.Status)}
		unsub = r.engine.Subscribe(func(wf *Workflow) {
			if wf.ID == workflowID {
				tracker.observe(wf)
			}
		})
	}

	wf, err := r.engine.Execute(ctx, workflowID)
	if unsub != nil {
		unsub()
	}
	if err != nil {
		if r.opsStore != nil {
			r.opsStore.Fail(opID, err.Error())
		}
		return nil, err
	}

	if r.opsStore != nil {
		switch wf.Status {
		case schema.StatusCompleted:
			var result any
			if wf.Result != nil {
				result = wf.Result
			}
			r.opsStore.Complete(opID, result)
		case schema.StatusFailed:
			r.opsStore.Fail(opID, failedStepMessage(wf))
		case schema.StatusCancelled:
			r.opsStore.Cancel(opID)
		}
	}
	return wf, nil
}

func failedStepMessage(wf *Workflow) string {
	for _, step := range wf.Steps {
		if step.Status == schema.StatusFailed {
			return "step " + step.ID + " failed: " + step.Error
		}
	}
	return "workflow failed"
}

// progressTracker maps workflow snapshots onto operation progress and logs.
// Snapshots arrive synchronously from the engine, but a mutex keeps the seen
// map safe if multiple executions ever share a tracker.
type progressTracker struct {
	mu    sync.Mutex
	store *ops.Store
	opID  string
	seen  map[string]schema.Status
}

func (t *progressTracker) observe(wf *Workflow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	completed := 0
	for _, step := range wf.Steps {
		if step.Status == schema.StatusCompleted {
			completed++
		}
		if prev, ok := t.seen[step.ID]; !ok || prev != step.Status {
			t.seen[step.ID] = step.Status
			switch step.Status {
			case schema.StatusRunning:
				t.store.AppendLog(t.opID, "step started: "+step.Name)
			case schema.StatusCompleted:
				t.store.AppendLog(t.opID, "step completed: "+step.Name)
			case schema.StatusFailed:
				t.store.AppendLog(t.opID, "step failed: "+step.Name+": "+step.Error)
			}
		}
	}

	if total := len(wf.Steps); total > 0 && !wf.Status.IsTerminal() {
		t.store.SetProgress(t.opID, completed*100/total)
	}
}
