package schema

// Projection types shared by the MCP tools and the dashboard API. These are
// pure read models over the session state; producing them must never touch
// cursor or waiter state.

// AgentInfo describes a registered agent.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ThreadInfo summarizes a conversation thread.
type ThreadInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CreatorID    string   `json:"creatorId"`
	Participants []string `json:"participants"`
	MessageCount int      `json:"messageCount"`
	IsClosed     bool     `json:"isClosed"`
	Summary      string   `json:"summary,omitempty"`
}

// MessageInfo is the wire form of a single message.
type MessageInfo struct {
	ID        string   `json:"id"`
	ThreadID  string   `json:"threadId"`
	SenderID  string   `json:"senderId"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions"`
	Timestamp int64    `json:"timestamp"`
}

// SessionInfo summarizes one session for the dashboard.
type SessionInfo struct {
	ID            string `json:"id"`
	ApplicationID string `json:"applicationId"`
	AgentCount    int    `json:"agentCount"`
	ThreadCount   int    `json:"threadCount"`
}

// DashboardInfo aggregates all sessions for the dashboard landing view.
type DashboardInfo struct {
	Sessions      []SessionInfo `json:"sessions"`
	TotalAgents   int           `json:"totalAgents"`
	TotalThreads  int           `json:"totalThreads"`
	TotalMessages int           `json:"totalMessages"`
}
