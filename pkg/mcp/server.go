package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/operon-dev/operon/internal/catalog"
	"github.com/operon-dev/operon/internal/ops"
	"github.com/operon-dev/operon/internal/workflow"
)

// OperonServerDeps holds the dependencies for creating an OperonServer.
type OperonServerDeps struct {
	Runner   *workflow.Runner
	OpsStore *ops.Store
	Catalog  *catalog.Catalog
	Logger   *slog.Logger
}

// OperonServer wraps an MCP server with operon-specific tool handlers.
type OperonServer struct {
	runner    *workflow.Runner
	opsStore  *ops.Store
	catalog   *catalog.Catalog
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewOperonServer creates a new OperonServer with all 5 tools registered.
func NewOperonServer(deps OperonServerDeps) *OperonServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &OperonServer{
		runner:   deps.Runner,
		opsStore: deps.OpsStore,
		catalog:  deps.Catalog,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"operon",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Operon runs resilient, trackable operations and workflows. Use operon.run to execute a workflow template, operon.status to inspect a workflow, operon.cancel to cancel a workflow or operation, operon.operations to list tracked operations, and operon.templates to list or define workflow templates."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *OperonServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *OperonServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *OperonServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: operationsTool(), Handler: s.handleOperations},
		{Tool: templatesTool(), Handler: s.handleTemplates},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("operon.run",
		mcp.WithDescription("Execute a workflow from a catalog template"),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("ID of the workflow template to execute")),
		mcp.WithString("name", mcp.Description("Display name for the workflow run (default: template name)")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the run to finish and return the final workflow (default: false)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("operon.status",
		mcp.WithDescription("Get workflow execution status"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("operon.cancel",
		mcp.WithDescription("Cancel a running workflow or operation"),
		mcp.WithString("workflow_id", mcp.Description("ID of the workflow to cancel")),
		mcp.WithString("operation_id", mcp.Description("ID of the operation to cancel")),
	)
}

func operationsTool() mcp.Tool {
	return mcp.NewTool("operon.operations",
		mcp.WithDescription("List tracked operations with status, progress and logs"),
		mcp.WithString("operation_id", mcp.Description("Return a single operation by ID")),
	)
}

func templatesTool() mcp.Tool {
	return mcp.NewTool("operon.templates",
		mcp.WithDescription("List catalog templates, or define a new one"),
		mcp.WithObject("define", mcp.Description("Template document to register (omit to list)")),
	)
}
