package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkAustinGrow/Coral-server/internal/session"
)

func TestConnBindings(t *testing.T) {
	b := NewConnBindings()
	sess := session.New("s1", "app", "key", nil, nil)

	_, ok := b.Get("conn-1")
	assert.False(t, ok)

	b.Put("conn-1", Binding{Session: sess, AgentID: "a1"})
	binding, ok := b.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, sess, binding.Session)
	assert.Equal(t, "a1", binding.AgentID)
	assert.Equal(t, 1, b.Len())

	// Reconnect overwrites.
	b.Put("conn-1", Binding{Session: sess, AgentID: "a2", DevMode: true})
	binding, _ = b.Get("conn-1")
	assert.Equal(t, "a2", binding.AgentID)
	assert.True(t, binding.DevMode)
	assert.Equal(t, 1, b.Len())

	b.Remove("conn-1")
	_, ok = b.Get("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	// Removing an absent binding is a no-op.
	b.Remove("conn-1")
}
