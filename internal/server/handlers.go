package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator"
)

// handlePlanSession implements the plan_thinking_session tool
func (ms *MCPServer) handlePlanSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problem, err := request.RequireString("problem")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	techniques, err := techniqueArg(request, "techniques")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := orchestrator.PlanRequest{
		Problem:        problem,
		Techniques:     techniques,
		ExecutionMode:  orchestrator.ExecutionMode(request.GetString("execution_mode", "")),
		MaxParallelism: request.GetInt("max_parallelism", 0),
	}
	if method := request.GetString("convergence_method", ""); method != "" {
		req.ConvergenceOptions = &orchestrator.ConvergenceOptions{
			Method: orchestrator.ConvergenceMethod(method),
		}
	}

	resp, err := ms.planner.GeneratePlan(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

// handleStartGroup implements the start_parallel_group tool: it creates
// the group and one session per technique, initializes the shared
// context, and starts timeout monitoring for every session.
func (ms *MCPServer) handleStartGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problem, err := request.RequireString("problem")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	techniques, err := techniqueArg(request, "techniques")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	strategy := orchestrator.UpdateStrategy(request.GetString("update_strategy", string(orchestrator.UpdateImmediate)))
	profile := orchestrator.TimeoutProfile(request.GetString("timeout_profile", string(orchestrator.ProfileThorough)))

	groupID := "group-" + uuid.NewString()
	group := &orchestrator.ParallelSessionGroup{
		GroupID:       groupID,
		ParentProblem: problem,
		ExecutionMode: orchestrator.ExecutionParallel,
		Status:        orchestrator.GroupActive,
		StartTime:     time.Now(),
	}

	for _, technique := range techniques {
		sessionID := "session-" + uuid.NewString()
		session := &orchestrator.ThinkingSession{
			ID:        sessionID,
			Technique: technique,
			Problem:   problem,
			GroupID:   groupID,
			Status:    orchestrator.SessionRunning,
		}
		if err := ms.store.CreateSession(ctx, session); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		group.SessionIDs = append(group.SessionIDs, sessionID)
	}

	if err := ms.store.CreateParallelGroup(ctx, group); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.synchronizer.InitializeSharedContext(groupID, strategy)
	for i, sessionID := range group.SessionIDs {
		ms.index.Register(sessionID, techniques[i], groupID)
		if err := ms.monitor.StartMonitoringSession(sessionID, groupID, profile); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	ms.logger.Info("Started parallel group",
		"group_id", groupID,
		"sessions", len(group.SessionIDs),
		"strategy", strategy,
	)
	return jsonResult(group)
}

// handleRecordStep implements the record_thinking_step tool
func (ms *MCPServer) handleRecordStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	step, err := request.RequireInt("step")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	insights := stringSliceArg(request, "insights")

	record := orchestrator.StepRecord{Step: step, Output: output, Timestamp: time.Now()}
	if err := ms.store.RecordStep(ctx, sessionID, record, insights, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := ms.monitor.RecordProgress(sessionID); err != nil {
		// monitoring may have been stopped already; the step still counts
		ms.logger.Debug("Progress not recorded", "session_id", sessionID, "error", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("recorded step %d for session %s", step, sessionID)), nil
}

// handleCompleteSession implements the complete_session tool
func (ms *MCPServer) handleCompleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	session, err := ms.store.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if session.GroupID != "" {
		if err := ms.store.MarkSessionCompleted(ctx, session.GroupID, sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	ms.index.SetStatus(sessionID, orchestrator.SessionCompleted)
	ms.monitor.StopMonitoring(sessionID)

	ms.logger.Info("Session completed",
		"session_id", sessionID,
		"group_id", session.GroupID,
		"technique", session.Technique,
	)
	return mcp.NewToolResultText(fmt.Sprintf("session %s completed", sessionID)), nil
}

// handleUpdateContext implements the update_shared_context tool
func (ms *MCPServer) handleUpdateContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groupID, err := request.RequireString("group_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	update := orchestrator.ContextUpdate{
		Insights: stringSliceArg(request, "insights"),
		Metrics:  floatMapArg(request, "metrics"),
	}
	for theme, weight := range floatMapArg(request, "themes") {
		update.Themes = append(update.Themes, orchestrator.ThemeWeight{Theme: theme, Weight: weight})
	}

	if err := ms.synchronizer.UpdateSharedContext(sessionID, groupID, update); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("shared context updated for group %s", groupID)), nil
}

// handleProcessCheckpoint implements the process_checkpoint tool
func (ms *MCPServer) handleProcessCheckpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID, err := request.RequireString("group_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := ms.synchronizer.ProcessCheckpoint(groupID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("checkpoint processed for group %s", groupID)), nil
}

// handleExecuteConvergence implements the execute_convergence tool
func (ms *MCPServer) handleExecuteConvergence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := orchestrator.ConvergenceRequest{
		Technique:   orchestrator.TechniqueConvergence,
		GroupID:     request.GetString("group_id", ""),
		CurrentStep: request.GetInt("current_step", 3),
		TotalSteps:  3,
		Strategy:    orchestrator.ConvergenceStrategy(request.GetString("strategy", "")),
	}

	if raw, ok := request.GetArguments()["parallel_results"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid parallel_results: %v", err)), nil
		}
		if err := json.Unmarshal(encoded, &req.ParallelResults); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid parallel_results: %v", err)), nil
		}
	}

	if req.GroupID != "" {
		// converging is a group-level state change; tolerate repeats
		if err := ms.store.UpdateGroupStatus(ctx, req.GroupID, orchestrator.GroupConverging); err != nil {
			ms.logger.Debug("Group not moved to converging", "group_id", req.GroupID, "error", err)
		}
	}

	out, err := ms.executor.Execute(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if req.GroupID != "" && req.CurrentStep >= req.TotalSteps {
		if err := ms.store.UpdateGroupStatus(ctx, req.GroupID, orchestrator.GroupCompleted); err != nil {
			ms.logger.Debug("Group not completed", "group_id", req.GroupID, "error", err)
		}
	}
	return jsonResult(out)
}

// groupStatusResponse is the get_group_status payload
type groupStatusResponse struct {
	Group      *orchestrator.ParallelSessionGroup `json:"group"`
	Context    *orchestrator.ContextSummary       `json:"contextSummary,omitempty"`
	Monitoring orchestrator.MonitoringStats       `json:"monitoring"`
	Sync       orchestrator.SyncStats             `json:"sync"`
}

// handleGroupStatus implements the get_group_status tool
func (ms *MCPServer) handleGroupStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID, err := request.RequireString("group_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	group, err := ms.store.GetParallelGroup(ctx, groupID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := groupStatusResponse{
		Group:      group,
		Monitoring: ms.monitor.Stats(),
		Sync:       ms.synchronizer.Stats(),
	}
	if summary, ok := ms.synchronizer.ContextSummary(groupID); ok {
		resp.Context = summary
	}
	return jsonResult(resp)
}

// handleExtendTimeout implements the extend_timeout tool
func (ms *MCPServer) handleExtendTimeout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("extra")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	extra, err := time.ParseDuration(raw)
	if err != nil || extra <= 0 {
		return mcp.NewToolResultError(fmt.Sprintf("extra must be a positive duration, got %q", raw)), nil
	}
	if err := ms.monitor.ExtendTimeout(sessionID, extra); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("timeout extended by %s for session %s", extra, sessionID)), nil
}

// jsonResult marshals a payload into a text tool result
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// techniqueArg reads a required string-array argument as technique IDs
func techniqueArg(request mcp.CallToolRequest, key string) ([]orchestrator.TechniqueID, error) {
	raw := stringSliceArg(request, key)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty array of strings", key)
	}
	out := make([]orchestrator.TechniqueID, 0, len(raw))
	for _, s := range raw {
		out = append(out, orchestrator.TechniqueID(s))
	}
	return out, nil
}

// stringSliceArg reads an optional string-array argument
func stringSliceArg(request mcp.CallToolRequest, key string) []string {
	raw, ok := request.GetArguments()[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// floatMapArg reads an optional object argument with numeric values
func floatMapArg(request mcp.CallToolRequest, key string) map[string]float64 {
	raw, ok := request.GetArguments()[key]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(obj))
	for name, v := range obj {
		if f, ok := v.(float64); ok {
			out[name] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
