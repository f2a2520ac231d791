package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// cursorKey identifies one agent's read position in one thread.
type cursorKey struct {
	agentID  string
	threadID string
}

// Session holds all stateful coordination for one (applicationId, privacyKey,
// sessionId) tenant: agents, threads, per-agent read cursors, and the waiter
// registries for mention delivery and agent-count barriers.
//
// A single mutex guards every map. Critical sections are bounded: no
// operation blocks or publishes to the hub while holding the lock. The two
// suspending operations (WaitForMentions, WaitForAgentCount) register a
// buffered single-resolution channel inside the same critical section that
// inspects current state, which rules out missed wake-ups between the check
// and the wait.
type Session struct {
	ID            string
	ApplicationID string
	PrivacyKey    string

	logger *slog.Logger
	hub    streaming.EventHub

	mu             sync.Mutex
	agents         map[string]Agent
	threads        map[string]*Thread
	lastRead       map[cursorKey]int
	mentionWaiters map[string]chan []Message
	countWaiters   map[int][]chan bool
	agentCount     int
	devStartCount  int
}

// New creates an empty Session. The hub is optional; when nil no events are
// published.
func New(id, applicationID, privacyKey string, hub streaming.EventHub, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:             id,
		ApplicationID:  applicationID,
		PrivacyKey:     privacyKey,
		logger:         logger.With(slog.String("session_id", id)),
		hub:            hub,
		agents:         make(map[string]Agent),
		threads:        make(map[string]*Thread),
		lastRead:       make(map[cursorKey]int),
		mentionWaiters: make(map[string]chan []Message),
		countWaiters:   make(map[int][]chan bool),
	}
}

// ClearAll resets the session to its empty state. Pending waiters are
// dropped, not resolved; this is a test/reset facility, not a runtime path.
func (s *Session) ClearAll() {
	s.mu.Lock()
	s.agents = make(map[string]Agent)
	s.threads = make(map[string]*Thread)
	s.lastRead = make(map[cursorKey]int)
	s.mentionWaiters = make(map[string]chan []Message)
	s.countWaiters = make(map[int][]chan bool)
	s.agentCount = 0
	s.mu.Unlock()
	s.logger.Info("session data cleared")
}

// --- Agent registration ---

// RegisterAgent inserts the agent if its id is not already taken and resolves
// every agent-count waiter whose target the new count satisfies. Returns
// false on a duplicate id; the first registration wins.
func (s *Session) RegisterAgent(agent Agent) bool {
	s.mu.Lock()
	if _, exists := s.agents[agent.ID]; exists {
		s.mu.Unlock()
		s.logger.Warn("agent already registered", slog.String("agent_id", agent.ID))
		return false
	}
	s.agents[agent.ID] = agent
	s.agentCount++
	count := s.agentCount

	resolved := 0
	for target, waiters := range s.countWaiters {
		if count >= target {
			for _, ch := range waiters {
				ch <- true
				resolved++
			}
			delete(s.countWaiters, target)
		}
	}
	s.mu.Unlock()

	s.logger.Info("agent registered",
		slog.String("agent_id", agent.ID),
		slog.String("name", agent.Name),
		slog.Int("agent_count", count))
	if resolved > 0 {
		s.logger.Debug("resolved agent-count waiters",
			slog.Int("waiters", resolved), slog.Int("agent_count", count))
	}

	s.emit(schema.EventAgentRegistered, "", agent.ID, agent)
	return true
}

// GetAgent returns the agent with the given id, if registered.
func (s *Session) GetAgent(agentID string) (Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	return a, ok
}

// GetAllAgents returns a point-in-time copy of all registered agents.
func (s *Session) GetAllAgents() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	return agents
}

// RegisteredAgentCount returns the current number of registered agents.
func (s *Session) RegisteredAgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentCount
}

// SetDevRequiredAgentStartCount records the dev-mode advisory start count.
func (s *Session) SetDevRequiredAgentStartCount(n int) {
	s.mu.Lock()
	s.devStartCount = n
	s.mu.Unlock()
}

// DevRequiredAgentStartCount returns the dev-mode advisory start count.
func (s *Session) DevRequiredAgentStartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devStartCount
}

// WaitForAgentCount blocks until at least target agents are registered, the
// timeout elapses, or ctx is cancelled. Returns whether the target was
// reached. Multiple concurrent waits on the same target are tracked
// independently and all resolve on the registration that satisfies them.
func (s *Session) WaitForAgentCount(ctx context.Context, target int, timeout time.Duration) bool {
	s.mu.Lock()
	if s.agentCount >= target {
		s.mu.Unlock()
		return true
	}
	ch := make(chan bool, 1)
	s.countWaiters[target] = append(s.countWaiters[target], ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-ch:
		return ok
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled: withdraw the waiter. If registration resolved
	// it first, the result is sitting in the buffered channel.
	s.mu.Lock()
	removed := s.removeCountWaiterLocked(target, ch)
	s.mu.Unlock()
	if !removed {
		select {
		case ok := <-ch:
			return ok
		default:
		}
	}
	s.logger.Debug("timeout waiting for agent count",
		slog.Int("target", target), slog.Int("current", s.RegisteredAgentCount()))
	return false
}

func (s *Session) removeCountWaiterLocked(target int, ch chan bool) bool {
	waiters := s.countWaiters[target]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			if len(waiters) == 0 {
				delete(s.countWaiters, target)
			} else {
				s.countWaiters[target] = waiters
			}
			return true
		}
	}
	return false
}

// --- Thread management ---

// CreateThread creates a thread owned by creatorID. Participant ids that are
// not registered agents are dropped; the creator is always a participant.
func (s *Session) CreateThread(name, creatorID string, participantIDs []string) (*Thread, error) {
	s.mu.Lock()
	if _, ok := s.agents[creatorID]; !ok {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "creator agent %s not found", creatorID)
	}

	valid := make([]string, 0, len(participantIDs)+1)
	var dropped []string
	for _, id := range participantIDs {
		if _, ok := s.agents[id]; ok {
			valid = append(valid, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	creatorIncluded := false
	for _, id := range valid {
		if id == creatorID {
			creatorIncluded = true
			break
		}
	}
	if !creatorIncluded {
		valid = append(valid, creatorID)
	}

	thread := newThread(name, creatorID, valid)
	s.threads[thread.ID] = thread
	snap := thread.snapshot()
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.logger.Warn("dropped unknown thread participants",
			slog.String("thread_id", thread.ID), slog.Any("participants", dropped))
	}
	s.logger.Info("thread created",
		slog.String("thread_id", thread.ID),
		slog.String("name", name),
		slog.String("creator_id", creatorID),
		slog.Int("participants", len(valid)))

	s.emit(schema.EventThreadCreated, thread.ID, creatorID, snap.Info())
	return snap, nil
}

// GetThread returns a snapshot of the thread, if it exists.
func (s *Session) GetThread(threadID string) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	return t.snapshot(), true
}

// GetAllThreads returns snapshots of every thread in the session.
func (s *Session) GetAllThreads() []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t.snapshot())
	}
	return threads
}

// GetThreadsForAgent returns snapshots of threads the agent participates in.
func (s *Session) GetThreadsForAgent(agentID string) []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	var threads []*Thread
	for _, t := range s.threads {
		if t.hasParticipant(agentID) {
			threads = append(threads, t.snapshot())
		}
	}
	return threads
}

// AddParticipantToThread adds the agent to the thread's membership. Fails if
// the thread or agent is unknown or the thread is closed; succeeds as a no-op
// if the agent already participates. A newly added participant's read cursor
// starts at the thread's current message count so pre-join history is not
// reported as unread.
func (s *Session) AddParticipantToThread(threadID, participantID string) bool {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.agents[participantID]; !ok {
		s.mu.Unlock()
		return false
	}
	if thread.Closed {
		s.mu.Unlock()
		return false
	}
	added := false
	if !thread.hasParticipant(participantID) {
		thread.Participants = append(thread.Participants, participantID)
		s.lastRead[cursorKey{participantID, threadID}] = len(thread.Messages)
		added = true
	}
	s.mu.Unlock()

	if added {
		s.emit(schema.EventParticipantAdded, threadID, participantID, nil)
	}
	return true
}

// RemoveParticipantFromThread removes the agent from the thread's membership.
// Fails if the thread is unknown or closed; returns whether the agent was
// actually present.
func (s *Session) RemoveParticipantFromThread(threadID, participantID string) bool {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok || thread.Closed {
		s.mu.Unlock()
		return false
	}
	removed := thread.removeParticipant(participantID)
	s.mu.Unlock()

	if removed {
		s.emit(schema.EventParticipantRemoved, threadID, participantID, nil)
	}
	return removed
}

// CloseThread marks the thread closed, records the summary, and appends a
// system message announcing the closure, delivering it to every current
// participant's pending wait. The only precondition is that the thread
// exists: closing an already-closed thread overwrites the summary and
// appends another announcement.
func (s *Session) CloseThread(threadID, summary string) bool {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	thread.Closed = true
	thread.Summary = summary

	closeMsg := newMessage(threadID, SystemSenderID, "Thread closed: "+summary, nil)
	thread.Messages = append(thread.Messages, closeMsg)
	s.deliverLocked(closeMsg)
	s.mu.Unlock()

	s.logger.Info("thread closed",
		slog.String("thread_id", threadID), slog.String("summary", summary))
	s.emit(schema.EventThreadClosed, threadID, "", closeMsg.Info())
	return true
}

// --- Messaging ---

// SendMessage appends a message to the thread and resolves the pending wait
// of every mentioned agent. Mentions naming non-participants are dropped.
// The error distinguishes the failure cases: unknown thread or sender
// (NOT_FOUND), closed thread (THREAD_CLOSED), sender not a participant
// (FORBIDDEN).
func (s *Session) SendMessage(threadID, senderID, content string, mentions []string) (*Message, error) {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "thread %s not found", threadID)
	}
	if _, ok := s.agents[senderID]; !ok {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "sender agent %s not found", senderID)
	}
	if thread.Closed {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeClosed, "thread %s is closed", threadID)
	}
	if !thread.hasParticipant(senderID) {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeForbidden, "sender %s is not a participant in thread %s", senderID, threadID)
	}

	valid := make([]string, 0, len(mentions))
	var dropped []string
	for _, id := range mentions {
		if thread.hasParticipant(id) {
			valid = append(valid, id)
		} else {
			dropped = append(dropped, id)
		}
	}

	msg := newMessage(threadID, senderID, content, valid)
	thread.Messages = append(thread.Messages, msg)
	s.deliverLocked(msg)
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.logger.Warn("dropped mentions of non-participants",
			slog.String("thread_id", threadID), slog.Any("mentions", dropped))
	}
	s.logger.Debug("message sent",
		slog.String("thread_id", threadID),
		slog.String("sender_id", senderID),
		slog.String("message_id", msg.ID))

	s.emit(schema.EventMessageSent, threadID, senderID, msg.Info())
	return &msg, nil
}

// deliverLocked resolves pending mention waits for the message. For a system
// message every thread participant is notified; otherwise only the mentioned
// agents. Each waiter channel is buffered and removed on resolution, so a
// waiter is resolved at most once and delivery never blocks.
func (s *Session) deliverLocked(msg Message) {
	if msg.SenderID == SystemSenderID {
		thread, ok := s.threads[msg.ThreadID]
		if !ok {
			return
		}
		for _, pid := range thread.Participants {
			s.resolveMentionWaiterLocked(pid, msg)
		}
		return
	}
	for _, mid := range msg.Mentions {
		s.resolveMentionWaiterLocked(mid, msg)
	}
}

func (s *Session) resolveMentionWaiterLocked(agentID string, msg Message) {
	ch, ok := s.mentionWaiters[agentID]
	if !ok {
		return
	}
	ch <- []Message{msg}
	delete(s.mentionWaiters, agentID)
}

// WaitForMentions returns the agent's unread mentions, blocking until a new
// one arrives, the timeout elapses, or ctx is cancelled. Unknown agents get
// an empty result immediately. Messages already in threads the agent
// participates in are returned without blocking and the agent's read cursors
// advance past them; otherwise a single-resolution waiter is installed.
// A second concurrent wait for the same agent is rejected with WAIT_PENDING.
// On timeout the result is empty and nil error. On external cancellation a
// racing delivery is left unread so the messages surface on the next wait.
func (s *Session) WaitForMentions(ctx context.Context, agentID string, timeout time.Duration) ([]Message, error) {
	s.mu.Lock()
	if _, ok := s.agents[agentID]; !ok {
		s.mu.Unlock()
		return []Message{}, nil
	}
	if unread := s.unreadLocked(agentID); len(unread) > 0 {
		s.advanceCursorsLocked(agentID, unread)
		s.mu.Unlock()
		return unread, nil
	}
	if _, pending := s.mentionWaiters[agentID]; pending {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeWaitPending, "agent %s already has a pending wait", agentID)
	}
	ch := make(chan []Message, 1)
	s.mentionWaiters[agentID] = ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var delivered []Message
	cancelled := false
	select {
	case delivered = <-ch:
	case <-timer.C:
	case <-ctx.Done():
		cancelled = true
	}

	s.mu.Lock()
	if s.mentionWaiters[agentID] == ch {
		delete(s.mentionWaiters, agentID)
	}
	if delivered == nil {
		// Delivery may have raced the timer or cancellation; the channel is
		// buffered so a resolved wait still holds its messages.
		select {
		case delivered = <-ch:
		default:
		}
	}
	if cancelled {
		// The caller is gone. Leave cursors untouched so any racing delivery
		// is rediscovered by the agent's next wait.
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	if len(delivered) > 0 {
		s.advanceCursorsLocked(agentID, delivered)
	}
	s.mu.Unlock()

	if delivered == nil {
		delivered = []Message{}
	}
	return delivered, nil
}

// UnreadMessages is the non-blocking poll counterpart of WaitForMentions:
// it returns the agent's unread mentions and advances the read cursors past
// them. Unknown agents get an empty result.
func (s *Session) UnreadMessages(agentID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return []Message{}
	}
	unread := s.unreadLocked(agentID)
	if len(unread) > 0 {
		s.advanceCursorsLocked(agentID, unread)
	} else {
		unread = []Message{}
	}
	return unread
}

// unreadLocked collects messages at or past the agent's cursor in every
// thread it participates in, keeping those that mention the agent or were
// authored by the system. Per-thread order is preserved; order across
// threads is unspecified.
func (s *Session) unreadLocked(agentID string) []Message {
	var result []Message
	for _, thread := range s.threads {
		if !thread.hasParticipant(agentID) {
			continue
		}
		cursor := s.lastRead[cursorKey{agentID, thread.ID}]
		if cursor > len(thread.Messages) {
			cursor = len(thread.Messages)
		}
		for _, msg := range thread.Messages[cursor:] {
			if msg.SenderID == SystemSenderID || mentionsAgent(msg, agentID) {
				result = append(result, msg)
			}
		}
	}
	return result
}

// advanceCursorsLocked moves the agent's per-thread cursors one past the
// highest-indexed message of msgs in each thread. Cursors never regress;
// an empty msgs set is a no-op.
func (s *Session) advanceCursorsLocked(agentID string, msgs []Message) {
	for _, msg := range msgs {
		thread, ok := s.threads[msg.ThreadID]
		if !ok {
			continue
		}
		for i := len(thread.Messages) - 1; i >= 0; i-- {
			if thread.Messages[i].ID == msg.ID {
				key := cursorKey{agentID, msg.ThreadID}
				if i+1 > s.lastRead[key] {
					s.lastRead[key] = i + 1
				}
				break
			}
		}
	}
}

func mentionsAgent(msg Message, agentID string) bool {
	for _, m := range msg.Mentions {
		if m == agentID {
			return true
		}
	}
	return false
}

// --- Projections ---

// Info returns the dashboard summary of this session.
func (s *Session) Info() schema.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.SessionInfo{
		ID:            s.ID,
		ApplicationID: s.ApplicationID,
		AgentCount:    s.agentCount,
		ThreadCount:   len(s.threads),
	}
}

// AgentInfos returns wire projections of all registered agents.
func (s *Session) AgentInfos() []schema.AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]schema.AgentInfo, 0, len(s.agents))
	for _, a := range s.agents {
		infos = append(infos, schema.AgentInfo{ID: a.ID, Name: a.Name, Description: a.Description})
	}
	return infos
}

// ThreadInfos returns wire projections of all threads.
func (s *Session) ThreadInfos() []schema.ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]schema.ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		infos = append(infos, t.Info())
	}
	return infos
}

// MessageInfos returns wire projections of a thread's messages in append
// order, or false if the thread does not exist. Reading never moves cursors.
func (s *Session) MessageInfos(threadID string) ([]schema.MessageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	infos := make([]schema.MessageInfo, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		infos = append(infos, m.Info())
	}
	return infos, true
}

// MessageTotal returns the number of messages across all threads.
func (s *Session) MessageTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.threads {
		total += len(t.Messages)
	}
	return total
}

func (s *Session) emit(eventType, threadID, agentID string, payload any) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(context.Background(), streaming.StreamEvent{
		SessionID: s.ID,
		ThreadID:  threadID,
		AgentID:   agentID,
		EventType: eventType,
		Payload:   payload,
	})
}
