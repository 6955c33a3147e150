package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/operon-dev/operon/internal/catalog"
	"github.com/operon-dev/operon/internal/ops"
	"github.com/operon-dev/operon/internal/scheduler"
	"github.com/operon-dev/operon/internal/streaming"
	"github.com/operon-dev/operon/internal/workflow"
	"github.com/operon-dev/operon/pkg/schema"
)

// JobStore is the scheduled-job persistence surface the API needs.
// Satisfied by catalog.LibSQLStore; may be nil to disable schedule routes.
type JobStore interface {
	CreateJob(ctx context.Context, job *schema.ScheduledJob) error
	GetJob(ctx context.Context, id string) (*schema.ScheduledJob, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]*schema.ScheduledJob, error)
	UpdateJob(ctx context.Context, id string, upd catalog.JobUpdate) error
	DeleteJob(ctx context.Context, id string) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Runner    *workflow.Runner
	OpsStore  *ops.Store
	Catalog   *catalog.Catalog
	Jobs      JobStore
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server exposes the JSON API and the SSE streams.
type Server struct {
	deps Deps
}

// New creates the API server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Operations.
	mux.HandleFunc("GET /api/operations", s.handleListOperations)
	mux.HandleFunc("GET /api/operations/progress", s.handleOverallProgress)
	mux.HandleFunc("GET /api/operations/{id}", s.handleGetOperation)
	mux.HandleFunc("POST /api/operations/{id}/cancel", s.handleCancelOperation)
	mux.HandleFunc("DELETE /api/operations/{id}", s.handleRemoveOperation)
	mux.HandleFunc("POST /api/operations/clear", s.handleClearTerminal)

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleRunWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/cancel", s.handleCancelWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleRemoveWorkflow)

	// Templates.
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)

	// Schedules.
	mux.HandleFunc("GET /api/schedules", s.handleListJobs)
	mux.HandleFunc("POST /api/schedules", s.handleCreateJob)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteJob)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
