package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// SystemSenderID is the sender id of synthetic messages appended by the
// broker itself (currently only thread-close announcements). System messages
// are delivered to every thread participant regardless of mentions.
const SystemSenderID = "system"

// Agent is a registered participant identity inside one session.
// Immutable after registration.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Message is a single immutable entry in a thread's append-only log.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Mentions  []string  `json:"mentions"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(threadID, senderID, content string, mentions []string) Message {
	if mentions == nil {
		mentions = []string{}
	}
	return Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Content:   content,
		Mentions:  mentions,
		Timestamp: time.Now().UTC(),
	}
}

// Info converts the message to its wire projection.
func (m Message) Info() schema.MessageInfo {
	return schema.MessageInfo{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Mentions:  append([]string(nil), m.Mentions...),
		Timestamp: m.Timestamp.UnixMilli(),
	}
}

// Thread is a named conversation with an ordered message log and a mutable
// membership list. All mutation happens under the owning Session's lock.
type Thread struct {
	ID           string
	Name         string
	CreatorID    string
	Participants []string
	Messages     []Message
	Closed       bool
	Summary      string
}

func newThread(name, creatorID string, participants []string) *Thread {
	return &Thread{
		ID:           uuid.NewString(),
		Name:         name,
		CreatorID:    creatorID,
		Participants: participants,
	}
}

func (t *Thread) hasParticipant(agentID string) bool {
	for _, p := range t.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

func (t *Thread) removeParticipant(agentID string) bool {
	for i, p := range t.Participants {
		if p == agentID {
			t.Participants = append(t.Participants[:i], t.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a deep copy safe to use outside the session lock.
func (t *Thread) snapshot() *Thread {
	cp := &Thread{
		ID:           t.ID,
		Name:         t.Name,
		CreatorID:    t.CreatorID,
		Participants: append([]string(nil), t.Participants...),
		Messages:     append([]Message(nil), t.Messages...),
		Closed:       t.Closed,
		Summary:      t.Summary,
	}
	return cp
}

// Info converts the thread to its wire projection.
func (t *Thread) Info() schema.ThreadInfo {
	return schema.ThreadInfo{
		ID:           t.ID,
		Name:         t.Name,
		CreatorID:    t.CreatorID,
		Participants: append([]string(nil), t.Participants...),
		MessageCount: len(t.Messages),
		IsClosed:     t.Closed,
		Summary:      t.Summary,
	}
}
