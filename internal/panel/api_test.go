package panel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkAustinGrow/Coral-server/internal/config"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

func newTestPanel(t *testing.T) (*PanelServer, *session.Manager) {
	t.Helper()
	manager := session.NewManager(nil, nil)
	srv := NewPanelServer(PanelDeps{
		Sessions: manager,
		Hub:      streaming.NewMemoryHub(),
	})
	return srv, manager
}

func seedSession(t *testing.T, m *session.Manager) *session.Session {
	t.Helper()
	s := m.CreateSessionWithID("s1", "default-app", "privkey")
	require.True(t, s.RegisterAgent(session.Agent{ID: "a1", Name: "Agent One"}))
	require.True(t, s.RegisterAgent(session.Agent{ID: "a2", Name: "Agent Two"}))
	thread, err := s.CreateThread("General", "a1", []string{"a2"})
	require.NoError(t, err)
	_, err = s.SendMessage(thread.ID, "a1", "hello", []string{"a2"})
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, srv *PanelServer, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestPanel(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDashboard(t *testing.T) {
	srv, m := newTestPanel(t)
	seedSession(t, m)

	rec := doRequest(t, srv, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info schema.DashboardInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Len(t, info.Sessions, 1)
	assert.Equal(t, "s1", info.Sessions[0].ID)
	assert.Equal(t, 2, info.TotalAgents)
	assert.Equal(t, 1, info.TotalThreads)
	assert.Equal(t, 1, info.TotalMessages)
}

func TestListAndGetSession(t *testing.T) {
	srv, m := newTestPanel(t)
	seedSession(t, m)

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []schema.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "default-app", sessions[0].ApplicationID)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession(t *testing.T) {
	srv, m := newTestPanel(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "default-app", "privacyKey": "privkey"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out["sessionId"])
	_, ok := m.GetSession(out["sessionId"])
	assert.True(t, ok)
}

func TestCreateSessionWithExplicitID(t *testing.T) {
	srv, m := newTestPanel(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "default-app", "privacyKey": "privkey", "sessionId": "my-session"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, ok := m.GetSession("my-session")
	assert.True(t, ok)
}

func TestCreateSessionRejections(t *testing.T) {
	srv, _ := newTestPanel(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions", `{"applicationId": "default-app"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "default-app", "privacyKey": "wrong"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "ghost-app", "privacyKey": "privkey"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateSessionCustomRegistry(t *testing.T) {
	manager := session.NewManager(nil, nil)
	reg, err := config.Parse([]byte(`{"applications": [{"id": "tenant", "privacyKeys": ["sk-1"]}]}`))
	require.NoError(t, err)
	srv := NewPanelServer(PanelDeps{Sessions: manager, Apps: reg, Hub: streaming.NewMemoryHub()})

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "tenant", "privacyKey": "sk-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions",
		`{"applicationId": "default-app", "privacyKey": "privkey"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionSubresources(t *testing.T) {
	srv, m := newTestPanel(t)
	s := seedSession(t, m)
	threadID := s.ThreadInfos()[0].ID

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions/s1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []schema.AgentInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Len(t, agents, 2)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var threads []schema.ThreadInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].MessageCount)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1/threads/"+threadID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1/threads/"+threadID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []schema.MessageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, []string{"a2"}, msgs[0].Mentions)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1/threads/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/s1/threads/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery(t *testing.T) {
	srv, m := newTestPanel(t)
	seedSession(t, m)

	rec := doRequest(t, srv, http.MethodGet, "/api/query?q=.sessions%5B%5D.id", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Results []any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "s1", out.Results[0])
}

func TestQueryAggregate(t *testing.T) {
	srv, m := newTestPanel(t)
	seedSession(t, m)

	rec := doRequest(t, srv, http.MethodGet, "/api/query?q=.totalAgents%2B.totalThreads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Results []any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.EqualValues(t, 3, out.Results[0])
}

func TestQueryErrors(t *testing.T) {
	srv, _ := newTestPanel(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/query", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/query?q=%5B%5B", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveDisabled(t *testing.T) {
	srv, _ := newTestPanel(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/archive", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
