package mcp

import (
	"sync"

	"github.com/MarkAustinGrow/Coral-server/internal/session"
)

// Binding ties one MCP transport connection to the broker session and
// agent identity it authenticated as.
type Binding struct {
	Session          *session.Session
	AgentID          string
	AgentDescription string
	DevMode          bool
}

// ConnBindings maps MCP transport session IDs to their bindings.
// Populated by the register/unregister session hooks.
type ConnBindings struct {
	mu       sync.RWMutex
	bindings map[string]Binding // transport sessionID → binding
}

// NewConnBindings creates an empty ConnBindings.
func NewConnBindings() *ConnBindings {
	return &ConnBindings{bindings: make(map[string]Binding)}
}

// Put stores the binding for a transport session. An existing binding
// for the same transport session is overwritten (reconnect).
func (b *ConnBindings) Put(transportID string, binding Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[transportID] = binding
}

// Get returns the binding for a transport session, if present.
func (b *ConnBindings) Get(transportID string) (Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.bindings[transportID]
	return binding, ok
}

// Remove deletes the binding for a transport session.
func (b *ConnBindings) Remove(transportID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, transportID)
}

// Len returns the number of live bindings.
func (b *ConnBindings) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bindings)
}
