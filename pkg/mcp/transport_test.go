package mcp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkAustinGrow/Coral-server/internal/config"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
)

// dispatch runs a request through requireSession with a recording handler
// in place of the SSE transport.
func dispatch(t *testing.T, srv *CoralServer, devMode bool, path string) (*httptest.ResponseRecorder, *connParams) {
	t.Helper()

	var captured *connParams
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := connParamsFromContext(r.Context()); ok {
			captured = &p
		}
		w.WriteHeader(http.StatusOK)
	})

	mux := http.NewServeMux()
	if devMode {
		mux.Handle("GET /devmode/{applicationId}/{privacyKey}/{sessionId}/sse",
			srv.requireSession(true, next))
	} else {
		mux.Handle("GET /{applicationId}/{privacyKey}/{sessionId}/sse",
			srv.requireSession(false, next))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec, captured
}

func TestRequireSessionMissingAgentID(t *testing.T) {
	srv := NewCoralServer(CoralServerDeps{Sessions: session.NewManager(nil, nil)})
	rec, _ := dispatch(t, srv, false, "/default-app/privkey/s1/sse")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireSessionBadCredentials(t *testing.T) {
	manager := session.NewManager(nil, nil)
	manager.CreateSessionWithID("s1", "default-app", "privkey")
	srv := NewCoralServer(CoralServerDeps{Sessions: manager})

	rec, _ := dispatch(t, srv, false, "/default-app/wrong-key/s1/sse?agentId=a1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = dispatch(t, srv, false, "/ghost-app/privkey/s1/sse?agentId=a1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireSessionStoredCredentialMismatch(t *testing.T) {
	manager := session.NewManager(nil, nil)
	manager.CreateSessionWithID("s1", "app-a", "key-a")
	reg, err := config.Parse([]byte(`{"applications": [
	  {"id": "app-a", "privacyKeys": ["key-a"]},
	  {"id": "app-b", "privacyKeys": ["key-b"]}
	]}`))
	require.NoError(t, err)
	srv := NewCoralServer(CoralServerDeps{Sessions: manager, Apps: reg})

	// app-b's credentials are registry-valid but do not match the
	// credentials s1 was provisioned with.
	rec, _ := dispatch(t, srv, false, "/app-b/key-b/s1/sse?agentId=a1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A second valid key of the owning application is still not the
	// session's stored key.
	manager.CreateSessionWithID("s2", "default-app", "public")
	srv = NewCoralServer(CoralServerDeps{Sessions: manager})
	rec, _ = dispatch(t, srv, false, "/default-app/privkey/s2/sse?agentId=a1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The exact stored pair passes.
	rec, _ = dispatch(t, srv, false, "/default-app/public/s2/sse?agentId=a1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSessionUnknownSession(t *testing.T) {
	srv := NewCoralServer(CoralServerDeps{Sessions: session.NewManager(nil, nil)})
	rec, _ := dispatch(t, srv, false, "/default-app/privkey/missing/sse?agentId=a1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireSessionBindsExisting(t *testing.T) {
	manager := session.NewManager(nil, nil)
	manager.CreateSessionWithID("s1", "default-app", "privkey")
	srv := NewCoralServer(CoralServerDeps{Sessions: manager})

	rec, params := dispatch(t, srv, false,
		"/default-app/privkey/s1/sse?agentId=a1&agentDescription=helper")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, params)
	assert.Equal(t, "s1", params.session.ID)
	assert.Equal(t, "a1", params.agentID)
	assert.Equal(t, "helper", params.agentDescription)
	assert.False(t, params.devMode)
}

func TestRequireSessionDevModeCreates(t *testing.T) {
	manager := session.NewManager(nil, nil)
	srv := NewCoralServer(CoralServerDeps{Sessions: manager})

	rec, params := dispatch(t, srv, true,
		"/devmode/default-app/privkey/dev-session/sse?agentId=a1&waitForAgents=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, params)
	assert.True(t, params.devMode)

	sess, ok := manager.GetSession("dev-session")
	require.True(t, ok)
	assert.Equal(t, 3, sess.DevRequiredAgentStartCount())
}

func TestRequireCredentialsOnMessagePath(t *testing.T) {
	manager := session.NewManager(nil, nil)
	manager.CreateSessionWithID("s1", "default-app", "privkey")
	srv := NewCoralServer(CoralServerDeps{Sessions: manager})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux := http.NewServeMux()
	mux.Handle("POST /{applicationId}/{privacyKey}/{sessionId}/message",
		srv.requireCredentials(next))

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusAccepted, post("/default-app/privkey/s1/message").Code)

	// Registry-invalid key.
	assert.Equal(t, http.StatusForbidden, post("/default-app/bad/s1/message").Code)

	// Registry-valid key that is not the session's stored one.
	assert.Equal(t, http.StatusForbidden, post("/default-app/public/s1/message").Code)

	// Unknown session.
	assert.Equal(t, http.StatusNotFound, post("/default-app/privkey/missing/message").Code)
}

func TestRequireSessionDevModeStillChecksCredentials(t *testing.T) {
	srv := NewCoralServer(CoralServerDeps{Sessions: session.NewManager(nil, nil)})
	rec, _ := dispatch(t, srv, true, "/devmode/default-app/nope/dev/sse?agentId=a1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
