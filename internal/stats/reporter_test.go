package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

func TestNewReporterRejectsBadSpec(t *testing.T) {
	_, err := NewReporter(session.NewManager(nil, nil), nil, "not a cron spec", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestCollect(t *testing.T) {
	m := session.NewManager(nil, nil)
	s := m.CreateSessionWithID("s1", "app", "key")
	require.True(t, s.RegisterAgent(session.Agent{ID: "a", Name: "A"}))
	require.True(t, s.RegisterAgent(session.Agent{ID: "b", Name: "B"}))
	thread, err := s.CreateThread("T", "a", []string{"b"})
	require.NoError(t, err)
	_, err = s.SendMessage(thread.ID, "a", "hi", nil)
	require.NoError(t, err)
	m.CreateSessionWithID("s2", "app", "key")

	r, err := NewReporter(m, nil, "", nil)
	require.NoError(t, err)

	snap := r.Collect()
	assert.Equal(t, 2, snap.Sessions)
	assert.Equal(t, 2, snap.Agents)
	assert.Equal(t, 1, snap.Threads)
	assert.Equal(t, 1, snap.Messages)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestReportPublishesSnapshot(t *testing.T) {
	m := session.NewManager(nil, nil)
	hub := streaming.NewMemoryHub()

	events, unsubscribe, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventStatsSnapshot},
	})
	require.NoError(t, err)
	defer unsubscribe()

	r, err := NewReporter(m, hub, "@every 1m", nil)
	require.NoError(t, err)
	r.Report(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, schema.EventStatsSnapshot, ev.EventType)
		snap, ok := ev.Payload.(Snapshot)
		require.True(t, ok)
		assert.Equal(t, 0, snap.Sessions)
	case <-time.After(time.Second):
		t.Fatal("no snapshot event published")
	}
}

func TestStartAndStop(t *testing.T) {
	r, err := NewReporter(session.NewManager(nil, nil), nil, "@every 1h", nil)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
