package mcp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/MarkAustinGrow/Coral-server/internal/logging"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
)

type connParamsKey struct{}

// connParams is the per-connection identity extracted from the connect URL.
type connParams struct {
	session          *session.Session
	agentID          string
	agentDescription string
	devMode          bool
}

func withConnParams(ctx context.Context, p connParams) context.Context {
	return context.WithValue(ctx, connParamsKey{}, p)
}

func connParamsFromContext(ctx context.Context) (connParams, bool) {
	p, ok := ctx.Value(connParamsKey{}).(connParams)
	return p, ok
}

// Handler returns the agent-facing HTTP handler. Agents connect on
// /{applicationId}/{privacyKey}/{sessionId}/sse and the SSE transport
// directs them to POST messages on the matching /message path. The
// /devmode variant provisions the session on first connect.
func (s *CoralServer) Handler() http.Handler {
	sse := server.NewSSEServer(s.mcpServer,
		server.WithDynamicBasePath(func(r *http.Request, _ string) string {
			return strings.TrimSuffix(r.URL.Path, "/sse")
		}),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if p, ok := connParamsFromContext(r.Context()); ok {
				ctx = withConnParams(ctx, p)
				ctx = logging.WithIDs(ctx, p.session.ID, p.agentID, "")
			}
			return ctx
		}),
		server.WithKeepAlive(true),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /{applicationId}/{privacyKey}/{sessionId}/sse",
		s.requireSession(false, sse.SSEHandler()))
	mux.Handle("POST /{applicationId}/{privacyKey}/{sessionId}/message",
		s.requireCredentials(sse.MessageHandler()))
	mux.Handle("GET /devmode/{applicationId}/{privacyKey}/{sessionId}/sse",
		s.requireSession(true, sse.SSEHandler()))
	mux.Handle("POST /devmode/{applicationId}/{privacyKey}/{sessionId}/message",
		s.requireCredentials(sse.MessageHandler()))
	return mux
}

// requireCredentials repeats the credential check on the message endpoint.
// The connection's session binding was already established on the SSE
// connect; here the URL credentials are re-verified against the registry
// and against the session they claim to address.
func (s *CoralServer) requireCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applicationID := r.PathValue("applicationId")
		privacyKey := r.PathValue("privacyKey")

		if !s.apps.Authorize(applicationID, privacyKey) {
			http.Error(w, "unknown application or privacy key", http.StatusForbidden)
			return
		}
		sess, ok := s.sessions.GetSession(r.PathValue("sessionId"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if sess.ApplicationID != applicationID || sess.PrivacyKey != privacyKey {
			http.Error(w, "invalid application ID or privacy key for this session", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession validates the connect URL before the SSE transport takes
// over. In dev mode the session is created on demand; otherwise it must
// already exist.
func (s *CoralServer) requireSession(devMode bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applicationID := r.PathValue("applicationId")
		privacyKey := r.PathValue("privacyKey")
		sessionID := r.PathValue("sessionId")

		agentID := r.URL.Query().Get("agentId")
		if agentID == "" {
			http.Error(w, "agentId query parameter is required", http.StatusBadRequest)
			return
		}

		if !s.apps.Authorize(applicationID, privacyKey) {
			http.Error(w, "unknown application or privacy key", http.StatusForbidden)
			return
		}

		var sess *session.Session
		if devMode {
			sess = s.sessions.GetOrCreateSession(sessionID, applicationID, privacyKey)
			if waitFor := r.URL.Query().Get("waitForAgents"); waitFor != "" {
				if n, err := strconv.Atoi(waitFor); err == nil && n > 0 {
					sess.SetDevRequiredAgentStartCount(n)
				}
			}
		} else {
			existing, ok := s.sessions.GetSession(sessionID)
			if !ok {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			// The URL credentials must match the ones the session was
			// provisioned with; a valid pair for another application must
			// not grant access to this session.
			if existing.ApplicationID != applicationID || existing.PrivacyKey != privacyKey {
				http.Error(w, "invalid application ID or privacy key for this session", http.StatusForbidden)
				return
			}
			sess = existing
		}

		params := connParams{
			session:          sess,
			agentID:          agentID,
			agentDescription: r.URL.Query().Get("agentDescription"),
			devMode:          devMode,
		}
		next.ServeHTTP(w, r.WithContext(withConnParams(r.Context(), params)))
	})
}
