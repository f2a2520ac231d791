package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// maxWaitTimeout caps wait_for_mentions so a stray client cannot pin a
// handler goroutine indefinitely.
const maxWaitTimeout = 10 * time.Minute

// bindingFromContext resolves the broker session and agent identity bound
// to the calling MCP connection.
func (s *CoralServer) bindingFromContext(ctx context.Context) (Binding, bool) {
	clientSession := server.ClientSessionFromContext(ctx)
	if clientSession == nil {
		return Binding{}, false
	}
	return s.bindings.Get(clientSession.SessionID())
}

// handleRegisterAgent registers the connected agent's identity in its session.
func (s *CoralServer) handleRegisterAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	description := req.GetString("description", binding.AgentDescription)

	registered := binding.Session.RegisterAgent(session.Agent{
		ID:          binding.AgentID,
		Name:        name,
		Description: description,
	})
	if !registered {
		return mcp.NewToolResultError(fmt.Sprintf("agent %q is already registered in this session", binding.AgentID)), nil
	}

	// The dev-mode expected start count is advisory: it is reported so
	// agents can coordinate, never enforced as a barrier.
	if required := binding.Session.DevRequiredAgentStartCount(); required > 0 {
		return marshalResult(map[string]any{
			"agentId":          binding.AgentID,
			"registered":       true,
			"expectedAgents":   required,
			"registeredAgents": binding.Session.RegisteredAgentCount(),
		})
	}

	return marshalResult(map[string]any{
		"agentId":    binding.AgentID,
		"registered": true,
	})
}

// handleListAgents lists the agents registered in the caller's session.
func (s *CoralServer) handleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	agents := binding.Session.AgentInfos()
	if !req.GetBool("includeDetails", true) {
		for i := range agents {
			agents[i].Description = ""
		}
	}
	return marshalResult(map[string]any{"agents": agents})
}

// handleCreateThread creates a thread with the caller as creator.
func (s *CoralServer) handleCreateThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	name, err := req.RequireString("threadName")
	if err != nil {
		return mcp.NewToolResultError("threadName is required"), nil
	}
	participantIDs := req.GetStringSlice("participantIds", nil)

	thread, createErr := binding.Session.CreateThread(name, binding.AgentID, participantIDs)
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create thread: %v", createErr)), nil
	}
	return marshalResult(thread.Info())
}

// handleAddParticipant adds an agent to an open thread.
func (s *CoralServer) handleAddParticipant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	threadID, err := req.RequireString("threadId")
	if err != nil {
		return mcp.NewToolResultError("threadId is required"), nil
	}
	participantID, err := req.RequireString("participantId")
	if err != nil {
		return mcp.NewToolResultError("participantId is required"), nil
	}

	if !binding.Session.AddParticipantToThread(threadID, participantID) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"could not add %q to thread %q: thread missing or closed, or agent not registered",
			participantID, threadID)), nil
	}
	return marshalResult(map[string]any{
		"threadId":      threadID,
		"participantId": participantID,
		"added":         true,
	})
}

// handleRemoveParticipant removes an agent from an open thread.
func (s *CoralServer) handleRemoveParticipant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	threadID, err := req.RequireString("threadId")
	if err != nil {
		return mcp.NewToolResultError("threadId is required"), nil
	}
	participantID, err := req.RequireString("participantId")
	if err != nil {
		return mcp.NewToolResultError("participantId is required"), nil
	}

	if !binding.Session.RemoveParticipantFromThread(threadID, participantID) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"could not remove %q from thread %q: thread missing or closed, or agent not a participant",
			participantID, threadID)), nil
	}
	return marshalResult(map[string]any{
		"threadId":      threadID,
		"participantId": participantID,
		"removed":       true,
	})
}

// handleCloseThread closes a thread with a summary.
func (s *CoralServer) handleCloseThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	threadID, err := req.RequireString("threadId")
	if err != nil {
		return mcp.NewToolResultError("threadId is required"), nil
	}
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("summary is required"), nil
	}

	if !binding.Session.CloseThread(threadID, summary) {
		return mcp.NewToolResultError(fmt.Sprintf("thread %q not found", threadID)), nil
	}
	return marshalResult(map[string]any{
		"threadId": threadID,
		"closed":   true,
		"summary":  summary,
	})
}

// handleSendMessage appends a message to a thread on the caller's behalf.
func (s *CoralServer) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	threadID, err := req.RequireString("threadId")
	if err != nil {
		return mcp.NewToolResultError("threadId is required"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}
	mentions := req.GetStringSlice("mentions", nil)

	msg, sendErr := binding.Session.SendMessage(threadID, binding.AgentID, content, mentions)
	if sendErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", sendErr)), nil
	}
	return marshalResult(msg.Info())
}

// handleWaitForMentions blocks until the caller is mentioned or time runs out.
func (s *CoralServer) handleWaitForMentions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binding, ok := s.bindingFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}

	timeoutMs := req.GetInt("timeoutMs", defaultWaitTimeoutMs)
	if timeoutMs <= 0 {
		timeoutMs = defaultWaitTimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	msgs, waitErr := binding.Session.WaitForMentions(ctx, binding.AgentID, timeout)
	if waitErr != nil {
		var coralErr *schema.CoralError
		if errors.As(waitErr, &coralErr) && coralErr.Code == schema.ErrCodeWaitPending {
			return mcp.NewToolResultError("a wait_for_mentions call is already pending for this agent"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("wait failed: %v", waitErr)), nil
	}

	infos := make([]schema.MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		infos = append(infos, m.Info())
	}
	return marshalResult(map[string]any{"messages": infos})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
