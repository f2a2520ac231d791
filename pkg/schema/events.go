package schema

// Broker event types published to the streaming hub. The dashboard SSE
// stream and the archive consume these; the session core emits them after
// the corresponding mutation commits.
const (
	EventSessionCreated     = "session.created"
	EventAgentRegistered    = "agent.registered"
	EventThreadCreated      = "thread.created"
	EventThreadClosed       = "thread.closed"
	EventParticipantAdded   = "participant.added"
	EventParticipantRemoved = "participant.removed"
	EventMessageSent        = "message.sent"
	EventStatsSnapshot      = "stats.snapshot"
)
