// Package server exposes the orchestration engine as MCP tools over the
// mcp-go server. It is a thin protocol adapter: all semantics live in the
// orchestrator package.
package server

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator"
)

const (
	// Tool names
	toolPlanSession        = "plan_thinking_session"
	toolStartGroup         = "start_parallel_group"
	toolRecordStep         = "record_thinking_step"
	toolCompleteSession    = "complete_session"
	toolUpdateContext      = "update_shared_context"
	toolProcessCheckpoint  = "process_checkpoint"
	toolExecuteConvergence = "execute_convergence"
	toolGroupStatus        = "get_group_status"
	toolExtendTimeout      = "extend_timeout"
)

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// MCPServer wraps the mcp-go server with the orchestration engine
type MCPServer struct {
	server       *server.MCPServer
	planner      *orchestrator.PlanGenerator
	store        orchestrator.SessionStore
	index        *orchestrator.SessionIndex
	synchronizer *orchestrator.Synchronizer
	monitor      *orchestrator.TimeoutMonitor
	executor     *orchestrator.ConvergenceExecutor
	logger       *slog.Logger
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(
	cfg Config,
	planner *orchestrator.PlanGenerator,
	store orchestrator.SessionStore,
	index *orchestrator.SessionIndex,
	synchronizer *orchestrator.Synchronizer,
	monitor *orchestrator.TimeoutMonitor,
	executor *orchestrator.ConvergenceExecutor,
	logger *slog.Logger,
) *MCPServer {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ms := &MCPServer{
		server:       mcpServer,
		planner:      planner,
		store:        store,
		index:        index,
		synchronizer: synchronizer,
		monitor:      monitor,
		executor:     executor,
		logger:       logger,
	}
	ms.registerTools()
	return ms
}

// registerTools registers all MCP tools with handlers
func (ms *MCPServer) registerTools() {
	planTool := mcp.NewTool(toolPlanSession,
		mcp.WithDescription("Plan sequential or parallel execution of thinking techniques for a problem"),
		mcp.WithString("problem",
			mcp.Required(),
			mcp.Description("The problem to think about"),
		),
		mcp.WithArray("techniques",
			mcp.Required(),
			mcp.Description("Technique identifiers to plan"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("execution_mode",
			mcp.Description("sequential, parallel, or auto (default auto)"),
		),
		mcp.WithNumber("max_parallelism",
			mcp.Description("Upper bound on parallel plan groups"),
		),
		mcp.WithString("convergence_method",
			mcp.Description("execute_thinking_step or llm_handoff"),
		),
	)
	ms.server.AddTool(planTool, ms.handlePlanSession)

	startTool := mcp.NewTool(toolStartGroup,
		mcp.WithDescription("Start a parallel session group with one session per technique"),
		mcp.WithString("problem",
			mcp.Required(),
			mcp.Description("The problem the group works on"),
		),
		mcp.WithArray("techniques",
			mcp.Required(),
			mcp.Description("Technique identifiers, one session each"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("update_strategy",
			mcp.Description("Shared context update strategy: immediate, batched, or checkpoint"),
		),
		mcp.WithString("timeout_profile",
			mcp.Description("Execution timeout profile: quick, thorough, or comprehensive"),
		),
	)
	ms.server.AddTool(startTool, ms.handleStartGroup)

	recordTool := mcp.NewTool(toolRecordStep,
		mcp.WithDescription("Record the output of one thinking step for a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to record against")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step number")),
		mcp.WithString("output", mcp.Required(), mcp.Description("Step output text")),
		mcp.WithArray("insights",
			mcp.Description("Insights extracted during this step"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
	ms.server.AddTool(recordTool, ms.handleRecordStep)

	completeTool := mcp.NewTool(toolCompleteSession,
		mcp.WithDescription("Mark a session complete within its group"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to complete")),
	)
	ms.server.AddTool(completeTool, ms.handleCompleteSession)

	updateTool := mcp.NewTool(toolUpdateContext,
		mcp.WithDescription("Push a session's insights, themes, and metrics into the group's shared context"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Originating session")),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Target group")),
		mcp.WithArray("insights",
			mcp.Description("New insights"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithObject("themes",
			mcp.Description("Theme name to weight delta"),
		),
		mcp.WithObject("metrics",
			mcp.Description("Metric name to value"),
		),
	)
	ms.server.AddTool(updateTool, ms.handleUpdateContext)

	checkpointTool := mcp.NewTool(toolProcessCheckpoint,
		mcp.WithDescription("Flush a group's queued context updates"),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Group to checkpoint")),
	)
	ms.server.AddTool(checkpointTool, ms.handleProcessCheckpoint)

	convergenceTool := mcp.NewTool(toolExecuteConvergence,
		mcp.WithDescription("Synthesize the completed branch results of a parallel group"),
		mcp.WithString("group_id", mcp.Description("Group whose completed sessions supply results")),
		mcp.WithNumber("current_step", mcp.Description("Convergence step being executed (default 3)")),
		mcp.WithString("strategy", mcp.Description("merge, select, or hierarchical (default merge)")),
		mcp.WithArray("parallel_results",
			mcp.Description("Explicit branch results; omit to gather from the group"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
	ms.server.AddTool(convergenceTool, ms.handleExecuteConvergence)

	statusTool := mcp.NewTool(toolGroupStatus,
		mcp.WithDescription("Get a group's status, shared context summary, and monitoring stats"),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Group to inspect")),
	)
	ms.server.AddTool(statusTool, ms.handleGroupStatus)

	extendTool := mcp.NewTool(toolExtendTimeout,
		mcp.WithDescription("Extend a session's execution timeout"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to extend")),
		mcp.WithString("extra", mcp.Required(), mcp.Description("Extra duration, e.g. 5m or 30s")),
	)
	ms.server.AddTool(extendTool, ms.handleExtendTimeout)
}
