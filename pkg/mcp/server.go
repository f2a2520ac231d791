// Package mcp exposes the broker to agents as MCP tools over SSE. Each
// agent connects on a session-scoped URL, and every tool call operates on
// the session and agent identity bound to that connection.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MarkAustinGrow/Coral-server/internal/config"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
)

// defaultWaitTimeoutMs is the wait_for_mentions timeout when the caller
// does not pass one.
const defaultWaitTimeoutMs = 30000

// CoralServerDeps holds the dependencies for creating a CoralServer.
type CoralServerDeps struct {
	Sessions *session.Manager
	Apps     *config.Registry
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// CoralServer wraps an MCP server with thread and messaging tool handlers.
type CoralServer struct {
	sessions  *session.Manager
	apps      *config.Registry
	hub       streaming.EventHub
	logger    *slog.Logger
	bindings  *ConnBindings
	mcpServer *server.MCPServer
}

// NewCoralServer creates a new CoralServer with all 8 tools registered.
func NewCoralServer(deps CoralServerDeps) *CoralServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	apps := deps.Apps
	if apps == nil {
		apps = config.DefaultRegistry()
	}

	s := &CoralServer{
		sessions: deps.Sessions,
		apps:     apps,
		hub:      deps.Hub,
		logger:   logger,
		bindings: NewConnBindings(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegisterSession)
	hooks.AddOnUnregisterSession(s.onUnregisterSession)

	mcpSrv := server.NewMCPServer(
		"coral-server",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Coral is a shared message board for agent collaboration. Register yourself with register_agent, discover collaborators with list_agents, organize conversations in threads, and use send_message with mentions plus wait_for_mentions to exchange messages."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CoralServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Bindings returns the connection binding registry.
func (s *CoralServer) Bindings() *ConnBindings {
	return s.bindings
}

// onRegisterSession binds a new transport connection to the broker session
// and agent identity carried in its connect context.
func (s *CoralServer) onRegisterSession(ctx context.Context, clientSession server.ClientSession) {
	params, ok := connParamsFromContext(ctx)
	if !ok {
		s.logger.Warn("transport session registered without connect params",
			"transport_session_id", clientSession.SessionID())
		return
	}

	s.bindings.Put(clientSession.SessionID(), Binding{
		Session:          params.session,
		AgentID:          params.agentID,
		AgentDescription: params.agentDescription,
		DevMode:          params.devMode,
	})
	s.logger.Info("agent connected",
		"session_id", params.session.ID,
		"agent_id", params.agentID,
		"transport_session_id", clientSession.SessionID())
}

// onUnregisterSession drops the binding when the connection closes.
func (s *CoralServer) onUnregisterSession(_ context.Context, clientSession server.ClientSession) {
	if binding, ok := s.bindings.Get(clientSession.SessionID()); ok {
		s.logger.Info("agent disconnected",
			"session_id", binding.Session.ID,
			"agent_id", binding.AgentID)
	}
	s.bindings.Remove(clientSession.SessionID())
}

// tools returns the 8 registered MCP tools as ServerTool entries.
func (s *CoralServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: registerAgentTool(), Handler: s.handleRegisterAgent},
		{Tool: listAgentsTool(), Handler: s.handleListAgents},
		{Tool: createThreadTool(), Handler: s.handleCreateThread},
		{Tool: addParticipantTool(), Handler: s.handleAddParticipant},
		{Tool: removeParticipantTool(), Handler: s.handleRemoveParticipant},
		{Tool: closeThreadTool(), Handler: s.handleCloseThread},
		{Tool: sendMessageTool(), Handler: s.handleSendMessage},
		{Tool: waitForMentionsTool(), Handler: s.handleWaitForMentions},
	}
}

// --- Tool definitions ---

func registerAgentTool() mcp.Tool {
	return mcp.NewTool("register_agent",
		mcp.WithDescription("Register this agent in the session so other agents can find and mention it"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name for this agent")),
		mcp.WithString("description", mcp.Description("What this agent does, shown to other agents")),
	)
}

func listAgentsTool() mcp.Tool {
	return mcp.NewTool("list_agents",
		mcp.WithDescription("List all agents registered in this session"),
		mcp.WithBoolean("includeDetails", mcp.Description("Include agent descriptions (default: true)")),
	)
}

func createThreadTool() mcp.Tool {
	return mcp.NewTool("create_thread",
		mcp.WithDescription("Create a new conversation thread. The creator is always a participant"),
		mcp.WithString("threadName", mcp.Required(), mcp.Description("Name of the thread")),
		mcp.WithArray("participantIds", mcp.Description("Agent IDs to add as initial participants"),
			mcp.Items(map[string]any{"type": "string"})),
	)
}

func addParticipantTool() mcp.Tool {
	return mcp.NewTool("add_participant",
		mcp.WithDescription("Add an agent to an open thread"),
		mcp.WithString("threadId", mcp.Required(), mcp.Description("ID of the thread")),
		mcp.WithString("participantId", mcp.Required(), mcp.Description("ID of the agent to add")),
	)
}

func removeParticipantTool() mcp.Tool {
	return mcp.NewTool("remove_participant",
		mcp.WithDescription("Remove an agent from an open thread"),
		mcp.WithString("threadId", mcp.Required(), mcp.Description("ID of the thread")),
		mcp.WithString("participantId", mcp.Required(), mcp.Description("ID of the agent to remove")),
	)
}

func closeThreadTool() mcp.Tool {
	return mcp.NewTool("close_thread",
		mcp.WithDescription("Close a thread with a summary. Participants are notified and no further messages are accepted"),
		mcp.WithString("threadId", mcp.Required(), mcp.Description("ID of the thread to close")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Summary of the thread's outcome")),
	)
}

func sendMessageTool() mcp.Tool {
	return mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a thread, optionally mentioning other participants"),
		mcp.WithString("threadId", mcp.Required(), mcp.Description("ID of the target thread")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message content")),
		mcp.WithArray("mentions", mcp.Description("Agent IDs to notify about this message"),
			mcp.Items(map[string]any{"type": "string"})),
	)
}

func waitForMentionsTool() mcp.Tool {
	return mcp.NewTool("wait_for_mentions",
		mcp.WithDescription("Block until this agent is mentioned or the timeout elapses. Returns unread mentions immediately if any are pending"),
		mcp.WithNumber("timeoutMs", mcp.Description("Maximum time to wait in milliseconds (default: 30000)")),
	)
}
