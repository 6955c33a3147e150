package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/operon-dev/operon/internal/catalog"
	"github.com/operon-dev/operon/pkg/schema"
)

// --- Operations ---

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.OpsStore.List())
}

func (s *Server) handleOverallProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"progress": s.deps.OpsStore.OverallProgress()})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	op := s.deps.OpsStore.Get(id)
	if op == nil {
		writeError(w, http.StatusNotFound, "operation not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.OpsStore.Get(id) == nil {
		writeError(w, http.StatusNotFound, "operation not found: "+id)
		return
	}
	s.deps.OpsStore.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "operation_id": id})
}

func (s *Server) handleRemoveOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.OpsStore.Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "operation_id": id})
}

func (s *Server) handleClearTerminal(w http.ResponseWriter, r *http.Request) {
	s.deps.OpsStore.ClearTerminal()
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

// --- Workflows ---

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Engine().List())
}

// handleRunWorkflow starts a workflow from a template in the background and
// returns the new ids immediately.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateID string `json:"template_id"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	workflowID, operationID, err := s.deps.Runner.Start(r.Context(), body.TemplateID, body.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id":  workflowID,
		"operation_id": operationID,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf := s.deps.Runner.Engine().Get(id)
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.deps.Runner.Engine().Cancel(id)
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "cancelled": cancelled})
}

func (s *Server) handleRemoveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.Runner.Engine().Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "workflow_id": id})
}

// --- Templates ---

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl schema.WorkflowTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Catalog.Define(r.Context(), &tpl); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": tpl.ID})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Catalog.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// --- Schedules ---

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "scheduling is not configured")
		return
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "scheduling is not configured")
		return
	}

	var body struct {
		TemplateID     string `json:"template_id"`
		Name           string `json:"name"`
		CronExpression string `json:"cron_expression"`
		Enabled        *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.TemplateID == "" || body.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "template_id and cron_expression are required")
		return
	}
	if _, err := s.deps.Catalog.Get(r.Context(), body.TemplateID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Scheduler.ValidateCron(body.CronExpression); err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	nextRun, err := s.deps.Scheduler.CalculateNextRun(body.CronExpression, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	job := &schema.ScheduledJob{
		ID:             uuid.NewString(),
		TemplateID:     body.TemplateID,
		Name:           body.Name,
		CronExpression: body.CronExpression,
		Enabled:        enabled,
		NextRunAt:      &nextRun,
		CreatedAt:      now,
	}
	if err := s.deps.Jobs.CreateJob(r.Context(), job); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": job.ID})
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "scheduling is not configured")
		return
	}
	id := r.PathValue("id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Jobs.UpdateJob(r.Context(), id, catalog.JobUpdate{Enabled: body.Enabled}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "scheduling is not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Jobs.DeleteJob(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}
