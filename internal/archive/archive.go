// Package archive persists broker events to a local libSQL database. The
// archive is write-through only: the broker never reads session state back
// from it. It exists for post-hoc inspection through the dashboard.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

const createEventsTable = `CREATE TABLE IF NOT EXISTS archive_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	thread_id TEXT,
	agent_id TEXT,
	event_type TEXT NOT NULL,
	payload TEXT,
	recorded_at TIMESTAMP NOT NULL
)`

const createEventsIndex = `CREATE INDEX IF NOT EXISTS idx_archive_events_session
	ON archive_events (session_id, id)`

// Event is one archived broker event.
type Event struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"sessionId"`
	ThreadID   string          `json:"threadId,omitempty"`
	AgentID    string          `json:"agentId,omitempty"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Filter narrows ListEvents results. Zero values match everything.
type Filter struct {
	SessionID string
	EventType string
	AfterID   int64
	Limit     int
}

// Archive is a libSQL-backed event sink. Safe for concurrent use.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the archive database at the given path and
// applies the schema. The path should be a file URI, e.g. "file:/path/db.db".
func Open(dbPath string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeArchive, "open archive database").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	for _, stmt := range []string{createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, schema.NewError(schema.ErrCodeArchive, "apply archive schema").WithCause(err)
		}
	}

	return &Archive{db: db, logger: logger}, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// Record inserts a single event.
func (a *Archive) Record(ctx context.Context, ev streaming.StreamEvent) error {
	var payload sql.NullString
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return schema.NewError(schema.ErrCodeArchive, "marshal event payload").WithCause(err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO archive_events (session_id, thread_id, agent_id, event_type, payload, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, nullStr(ev.ThreadID), nullStr(ev.AgentID), ev.EventType, payload, time.Now().UTC(),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeArchive, "insert event").WithCause(err)
	}
	return nil
}

// Run subscribes to the hub and records every event until ctx is done.
// Insert failures are logged and skipped so a bad row never stalls the feed.
func (a *Archive) Run(ctx context.Context, hub streaming.EventHub) error {
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return schema.NewError(schema.ErrCodeArchive, "subscribe to event hub").WithCause(err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := a.Record(ctx, ev); err != nil {
				a.logger.WarnContext(ctx, "archive insert failed",
					"event_type", ev.EventType, "session_id", ev.SessionID, "error", err)
			}
		}
	}
}

// ListEvents returns archived events matching the filter, oldest first.
func (a *Archive) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT id, session_id, thread_id, agent_id, event_type, payload, recorded_at
		FROM archive_events WHERE id > ?`
	args := []any{filter.AfterID}

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	query += ` ORDER BY id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeArchive, "query events").WithCause(err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var threadID, agentID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &threadID, &agentID, &ev.EventType, &payload, &ev.RecordedAt); err != nil {
			return nil, schema.NewError(schema.ErrCodeArchive, "scan event row").WithCause(err)
		}
		ev.ThreadID = threadID.String
		ev.AgentID = agentID.String
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
