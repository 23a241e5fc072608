// Package mcptools exposes the session commands as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sjawhar/ghost-scribe/internal/scribe"
)

const serverName = "ghost-scribe"

type tools struct {
	cmds scribe.Commands
}

// NewServer builds an MCP server with every session tool registered.
func NewServer(cmds scribe.Commands, version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version, server.WithToolCapabilities(true))
	Register(s, cmds)
	return s
}

func Register(s *server.MCPServer, cmds scribe.Commands) {
	t := &tools{cmds: cmds}

	s.AddTool(mcp.NewTool("begin_session",
		mcp.WithDescription("Start recording every speaker on the voice connection into a new named session."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Session name, unique across recordings and transcripts")),
		mcp.WithString("notify_target", mcp.Description("Where session notifications should be routed")),
	), t.beginSession)

	s.AddTool(mcp.NewTool("end_session",
		mcp.WithDescription("Stop the active session, then transcribe and summarize it."),
	), t.endSession)

	s.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report whether a session is active."),
	), t.status)

	s.AddTool(mcp.NewTool("get_latest_transcript",
		mcp.WithDescription("Return the newest transcript of a session."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Session name")),
	), t.latestTranscript)

	s.AddTool(mcp.NewTool("get_latest_summary",
		mcp.WithDescription("Return the newest summary of a session."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Session name")),
	), t.latestSummary)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List known sessions, newest first."),
	), t.listSessions)

	s.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a session's recordings, transcripts and catalog entry."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Session name")),
	), t.deleteSession)

	s.AddTool(mcp.NewTool("purge_all_sessions",
		mcp.WithDescription("Delete every session. Pass confirm=\"y\" to proceed."),
		mcp.WithString("confirm", mcp.Required(), mcp.Description("Must be exactly \"y\"")),
	), t.purgeAll)

	s.AddTool(mcp.NewTool("process_session",
		mcp.WithDescription("Transcribe and summarize a stored session again."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Session name")),
	), t.processSession)
}

func (t *tools) beginSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := t.cmds.BeginSession(ctx, name, nil, req.GetString("notify_target", ""))
	if err != nil {
		return toolError("begin_session", err), nil
	}
	return jsonResult(sess)
}

// The pipeline keeps running if the client goes away mid-call.
func (t *tools) endSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outcome, err := t.cmds.EndSession(context.WithoutCancel(ctx))
	if err != nil {
		return toolError("end_session", err), nil
	}
	return jsonResult(outcome)
}

func (t *tools) status(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.cmds.Status())
}

func (t *tools) latestTranscript(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	art, err := t.cmds.GetLatestTranscript(name)
	if err != nil {
		return toolError("get_latest_transcript", err), nil
	}
	return mcp.NewToolResultText(art.Text), nil
}

func (t *tools) latestSummary(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	art, err := t.cmds.GetLatestSummary(name)
	if err != nil {
		return toolError("get_latest_summary", err), nil
	}
	return mcp.NewToolResultText(art.Text), nil
}

func (t *tools) listSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.cmds.ListSessions()
	if err != nil {
		return toolError("list_sessions", err), nil
	}
	if sessions == nil {
		sessions = []scribe.SessionInfo{}
	}
	return jsonResult(sessions)
}

func (t *tools) deleteSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.cmds.DeleteSession(name); err != nil {
		return toolError("delete_session", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted session %q", name)), nil
}

func (t *tools) purgeAll(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := t.cmds.PurgeAllSessions(req.GetString("confirm", ""))
	if err != nil {
		return toolError("purge_all_sessions", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("purged %d sessions", n)), nil
}

func (t *tools) processSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcome, err := t.cmds.ProcessSession(context.WithoutCancel(ctx), name)
	if err != nil {
		return toolError("process_session", err), nil
	}
	return jsonResult(outcome)
}

// Operation failures are tool results so the calling model can see them.
func toolError(tool string, err error) *mcp.CallToolResult {
	slog.Warn("mcp tool failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
