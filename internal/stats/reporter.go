// Package stats periodically logs broker totals and publishes snapshot
// events for dashboard consumers.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// Snapshot is one point-in-time aggregate across all sessions.
type Snapshot struct {
	Sessions int       `json:"sessions"`
	Agents   int       `json:"agents"`
	Threads  int       `json:"threads"`
	Messages int       `json:"messages"`
	TakenAt  time.Time `json:"takenAt"`
}

// Reporter runs on a cron schedule, logging totals and publishing a
// snapshot event on each tick.
type Reporter struct {
	sessions *session.Manager
	hub      streaming.EventHub
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReporter creates a Reporter. spec is a cron expression and accepts
// descriptors like "@every 1m" (the default when spec is empty).
func NewReporter(sessions *session.Manager, hub streaming.EventHub, spec string, logger *slog.Logger) (*Reporter, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "invalid stats schedule %q", spec).WithCause(err)
	}

	return &Reporter{
		sessions: sessions,
		hub:      hub,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start launches the background reporting loop.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("stats reporter already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx)
	r.logger.Info("stats reporter started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Report(ctx)
		}
	}
}

// Report takes a snapshot, logs it, and publishes it to the hub.
func (r *Reporter) Report(ctx context.Context) Snapshot {
	snap := r.Collect()

	r.logger.InfoContext(ctx, "broker stats",
		slog.Int("sessions", snap.Sessions),
		slog.Int("agents", snap.Agents),
		slog.Int("threads", snap.Threads),
		slog.Int("messages", snap.Messages),
	)

	if r.hub != nil {
		_ = r.hub.Publish(ctx, streaming.StreamEvent{
			EventType: schema.EventStatsSnapshot,
			Payload:   snap,
		})
	}
	return snap
}

// Collect aggregates current totals across all sessions.
func (r *Reporter) Collect() Snapshot {
	snap := Snapshot{TakenAt: time.Now().UTC()}
	for _, s := range r.sessions.GetAllSessions() {
		snap.Sessions++
		snap.Agents += s.RegisteredAgentCount()
		snap.Threads += len(s.GetAllThreads())
		snap.Messages += s.MessageTotal()
	}
	return snap
}
