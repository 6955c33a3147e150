package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/operon-dev/operon/pkg/schema"
)

// handleRun executes a workflow from a catalog template.
func (s *OperonServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError("template_id is required"), nil
	}
	name := req.GetString("name", "")
	wait := req.GetBool("wait", false)

	if wait {
		wf, runErr := s.runner.Run(ctx, templateID, name)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
		}
		return marshalResult(wf)
	}

	workflowID, operationID, startErr := s.runner.Start(ctx, templateID, name)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow start failed: %v", startErr)), nil
	}
	return marshalResult(map[string]string{
		"workflow_id":  workflowID,
		"operation_id": operationID,
	})
}

// handleStatus returns the current state of a workflow.
func (s *OperonServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf := s.runner.Engine().Get(workflowID)
	if wf == nil {
		return mcp.NewToolResultError("workflow not found: " + workflowID), nil
	}
	return marshalResult(wf)
}

// handleCancel cancels a workflow, an operation, or both.
func (s *OperonServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	operationID := req.GetString("operation_id", "")
	if workflowID == "" && operationID == "" {
		return mcp.NewToolResultError("workflow_id or operation_id is required"), nil
	}

	out := map[string]any{}
	if workflowID != "" {
		out["workflow_id"] = workflowID
		out["workflow_cancelled"] = s.runner.Engine().Cancel(workflowID)
	}
	if operationID != "" {
		if s.opsStore.Get(operationID) == nil {
			return mcp.NewToolResultError("operation not found: " + operationID), nil
		}
		s.opsStore.Cancel(operationID)
		out["operation_id"] = operationID
	}
	return marshalResult(out)
}

// handleOperations lists tracked operations, or returns one by id.
func (s *OperonServer) handleOperations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("operation_id", ""); id != "" {
		op := s.opsStore.Get(id)
		if op == nil {
			return mcp.NewToolResultError("operation not found: " + id), nil
		}
		return marshalResult(op)
	}

	return marshalResult(map[string]any{
		"operations":       s.opsStore.List(),
		"overall_progress": s.opsStore.OverallProgress(),
	})
}

// handleTemplates lists catalog templates, or defines a new one.
func (s *OperonServer) handleTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	define := mcp.ParseStringMap(req, "define", nil)
	if define == nil {
		templates, err := s.catalog.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list templates failed: %v", err)), nil
		}
		return marshalResult(templates)
	}

	data, err := json.Marshal(define)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid template document: %v", err)), nil
	}
	var tpl schema.WorkflowTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid template document: %v", err)), nil
	}

	if err := s.catalog.Define(ctx, &tpl); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define template failed: %v", err)), nil
	}
	return marshalResult(map[string]string{"ok": "true", "id": tpl.ID})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
