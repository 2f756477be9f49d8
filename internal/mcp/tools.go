// ABOUTME: MCP tool definitions and handlers for agent coordination
// ABOUTME: Renders coordinator results as the plain-text replies agents read

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
)

// timestampLayout matches how agents have always seen message and output times.
const timestampLayout = "2006-01-02 15:04:05"

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("register_agent",
			mcplib.WithDescription("Register an agent with the coordination server"),
			mcplib.WithString("agent_id",
				mcplib.Description("Unique identifier for the agent"),
				mcplib.Required(),
			),
			mcplib.WithString("workspace_path",
				mcplib.Description("Path to agent's workspace"),
				mcplib.Required(),
			),
			mcplib.WithArray("capabilities",
				mcplib.Description("List of capabilities this agent has"),
				mcplib.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleRegisterAgent,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("send_message",
			mcplib.WithDescription("Send a message to another agent"),
			mcplib.WithString("from_agent",
				mcplib.Description("ID of sending agent"),
				mcplib.Required(),
			),
			mcplib.WithString("to_agent",
				mcplib.Description("ID of receiving agent"),
				mcplib.Required(),
			),
			mcplib.WithString("message_type",
				mcplib.Description("Type of message, e.g. request, response, notification. output_ready with a file_path also records an output and wakes agents waiting on the sender."),
				mcplib.Required(),
			),
			mcplib.WithString("content",
				mcplib.Description("Message content"),
				mcplib.Required(),
			),
			mcplib.WithString("file_path",
				mcplib.Description("Optional path to associated file"),
			),
		),
		s.handleSendMessage,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("check_messages",
			mcplib.WithDescription("Check for messages addressed to this agent"),
			mcplib.WithString("agent_id",
				mcplib.Description("ID of agent checking messages"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("mark_as_read",
				mcplib.Description("Mark retrieved messages as read"),
				mcplib.DefaultBool(true),
			),
		),
		s.handleCheckMessages,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("notify_output_ready",
			mcplib.WithDescription("Notify that an output file is ready"),
			mcplib.WithString("agent_id",
				mcplib.Description("ID of agent that created output"),
				mcplib.Required(),
			),
			mcplib.WithString("file_path",
				mcplib.Description("Path to output file"),
				mcplib.Required(),
			),
			mcplib.WithObject("metadata",
				mcplib.Description("Optional metadata about the output"),
			),
		),
		s.handleNotifyOutputReady,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("wait_for_output",
			mcplib.WithDescription("Wait for output from another agent"),
			mcplib.WithString("waiting_agent",
				mcplib.Description("ID of agent waiting for output"),
				mcplib.Required(),
			),
			mcplib.WithString("from_agent",
				mcplib.Description("ID of agent expected to produce output"),
				mcplib.Required(),
			),
			mcplib.WithNumber("timeout_ms",
				mcplib.Description("Timeout in milliseconds"),
				mcplib.DefaultNumber(float64(s.coord.DefaultWaitTimeout().Milliseconds())),
			),
		),
		s.handleWaitForOutput,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("update_status",
			mcplib.WithDescription("Update agent status"),
			mcplib.WithString("agent_id",
				mcplib.Description("ID of agent"),
				mcplib.Required(),
			),
			mcplib.WithString("status",
				mcplib.Description("Current status"),
				mcplib.Enum(coord.KnownStatuses...),
				mcplib.Required(),
			),
			mcplib.WithString("details",
				mcplib.Description("Optional status details"),
			),
		),
		s.handleUpdateStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_agent_list",
			mcplib.WithDescription("Get list of registered agents and their status"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetAgentList,
	)
}

func (s *Server) handleRegisterAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	workspace := request.GetString("workspace_path", "")
	caps, err := stringSlice(request.GetArguments()["capabilities"])
	if err != nil {
		return errorResult(err), nil
	}

	reg, err := s.coord.RegisterAgent(ctx, agentID, workspace, caps)
	if err != nil {
		return errorResult(err), nil
	}

	text := fmt.Sprintf("Agent '%s' registered successfully\nWorkspace: %s", reg.AgentID, reg.WorkspacePath)
	switch {
	case reg.Watching:
		text += "\nMonitoring outputs at: " + reg.WatchDir
	case reg.WatchDir != "":
		text += "\nOutput monitoring unavailable for: " + reg.WatchDir
	}
	return textResult(text), nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	from := request.GetString("from_agent", "")
	to := request.GetString("to_agent", "")

	id, err := s.coord.SendMessage(ctx,
		from, to,
		request.GetString("message_type", ""),
		request.GetString("content", ""),
		request.GetString("file_path", ""),
	)
	if err != nil {
		return errorResult(err), nil
	}

	return textResult(fmt.Sprintf("Message sent successfully\nID: %d\nFrom: %s → To: %s", id, from, to)), nil
}

func (s *Server) handleCheckMessages(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	markRead := request.GetBool("mark_as_read", true)

	msgs, err := s.coord.CheckMessages(ctx, agentID, markRead)
	if err != nil {
		return errorResult(err), nil
	}
	if len(msgs) == 0 {
		return textResult("No new messages"), nil
	}

	return textResult(fmt.Sprintf("Found %d message(s):\n\n%s", len(msgs), formatMessages(msgs))), nil
}

func (s *Server) handleNotifyOutputReady(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	filePath := request.GetString("file_path", "")

	var metadata map[string]any
	if raw, ok := request.GetArguments()["metadata"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return errorResult(fmt.Errorf("metadata must be an object: %w", coord.ErrInvalidArgument)), nil
		}
		metadata = m
	}

	out, err := s.coord.AnnounceOutput(ctx, agentID, filePath, metadata)
	if err != nil && out == nil {
		return errorResult(err), nil
	}

	text := fmt.Sprintf("Output notification sent\nAgent: %s\nFile: %s", agentID, filePath)
	if err != nil {
		// recorded and waiters woken; only the broadcast fell short
		text += "\nWarning: " + err.Error()
	}
	return textResult(text), nil
}

func (s *Server) handleWaitForOutput(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	waiting := request.GetString("waiting_agent", "")
	from := request.GetString("from_agent", "")
	timeoutMs := request.GetFloat("timeout_ms", float64(s.coord.DefaultWaitTimeout().Milliseconds()))
	timeout := coord.MillisToDuration(timeoutMs)

	out, err := s.coord.WaitForOutput(ctx, waiting, from, timeout)
	if err != nil {
		if errors.Is(err, coord.ErrOutputTimeout) && timeout > 0 {
			return &mcplib.CallToolResult{
				Content: []mcplib.Content{
					mcplib.TextContent{Type: "text", Text: "Timeout waiting for output from " + from},
				},
				IsError: true,
			}, nil
		}
		return errorResult(err), nil
	}

	return textResult(fmt.Sprintf("Output available from %s\nFile: %s\nCreated: %s",
		from, out.FilePath, out.CreatedAt.UTC().Format(timestampLayout))), nil
}

func (s *Server) handleUpdateStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	status := request.GetString("status", "")
	details := request.GetString("details", "")

	if !coord.KnownStatus(status) {
		return errorResult(fmt.Errorf("status must be one of %s: %w",
			strings.Join(coord.KnownStatuses, ", "), coord.ErrInvalidArgument)), nil
	}

	if err := s.coord.UpdateStatus(ctx, agentID, status, details); err != nil {
		return errorResult(err), nil
	}

	text := fmt.Sprintf("Status updated for %s: %s", agentID, status)
	if details != "" {
		text += "\nDetails: " + details
	}
	return textResult(text), nil
}

func (s *Server) handleGetAgentList(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agents, err := s.coord.ListAgents(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(agents) == 0 {
		return textResult("No agents registered"), nil
	}

	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		lines = append(lines, fmt.Sprintf("• %s: %s (%s)", a.ID, a.Status, a.WorkspacePath))
	}
	return textResult("Registered agents:\n" + strings.Join(lines, "\n")), nil
}

func formatMessages(msgs []*store.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] From: %s\n", m.Type, m.FromAgentID)
		fmt.Fprintf(&b, "Content: %s\n", m.Content)
		if m.FilePath != "" {
			fmt.Fprintf(&b, "File: %s\n", m.FilePath)
		}
		fmt.Fprintf(&b, "Time: %s", m.CreatedAt.UTC().Format(timestampLayout))
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n---\n")
}

// stringSlice accepts a JSON array of strings. A missing value is an empty list.
func stringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return vals, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("capabilities must be strings: %w", coord.ErrInvalidArgument)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("capabilities must be an array: %w", coord.ErrInvalidArgument)
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(err error) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: "Error: " + err.Error()},
		},
		IsError: true,
	}
}
