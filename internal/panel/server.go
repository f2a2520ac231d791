// Package panel serves the dashboard JSON API and event streams used by
// external monitoring UIs.
package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/MarkAustinGrow/Coral-server/internal/archive"
	"github.com/MarkAustinGrow/Coral-server/internal/config"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Sessions *session.Manager
	Apps     *config.Registry
	Hub      streaming.EventHub
	Archive  *archive.Archive // nil when archiving is disabled
	Logger   *slog.Logger
}

// PanelServer serves the dashboard API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Apps == nil {
		deps.Apps = config.DefaultRegistry()
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Read API.
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/sessions/{id}/threads", s.handleListThreads)
	mux.HandleFunc("GET /api/sessions/{id}/threads/{threadId}", s.handleGetThread)
	mux.HandleFunc("GET /api/sessions/{id}/threads/{threadId}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/archive", s.handleArchive)

	// API mutations.
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/sessions/{id}", s.handleSSESession)

	return mux
}

func (s *PanelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
