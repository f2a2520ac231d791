package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/itchyny/gojq"

	"github.com/MarkAustinGrow/Coral-server/internal/archive"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// maxQueryResults caps the number of values a jq query may emit.
const maxQueryResults = 1000

func (s *PanelServer) dashboard() schema.DashboardInfo {
	var info schema.DashboardInfo
	for _, sess := range s.deps.Sessions.GetAllSessions() {
		info.Sessions = append(info.Sessions, sess.Info())
		info.TotalAgents += sess.RegisteredAgentCount()
		info.TotalThreads += len(sess.GetAllThreads())
		info.TotalMessages += sess.MessageTotal()
	}
	sort.Slice(info.Sessions, func(i, j int) bool {
		return info.Sessions[i].ID < info.Sessions[j].ID
	})
	return info
}

func (s *PanelServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard())
}

func (s *PanelServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.deps.Sessions.GetAllSessions()
	out := make([]schema.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSession provisions a session for an authorized application.
func (s *PanelServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApplicationID string `json:"applicationId"`
		PrivacyKey    string `json:"privacyKey"`
		SessionID     string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.ApplicationID == "" || body.PrivacyKey == "" {
		writeError(w, http.StatusBadRequest, "applicationId and privacyKey are required")
		return
	}
	if !s.deps.Apps.Authorize(body.ApplicationID, body.PrivacyKey) {
		writeError(w, http.StatusForbidden, "unknown application or privacy key")
		return
	}

	var sessionID string
	if body.SessionID != "" {
		sess := s.deps.Sessions.GetOrCreateSession(body.SessionID, body.ApplicationID, body.PrivacyKey)
		sessionID = sess.ID
	} else {
		sess := s.deps.Sessions.CreateSession(body.ApplicationID, body.PrivacyKey)
		sessionID = sess.ID
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId":     sessionID,
		"applicationId": body.ApplicationID,
	})
}

func (s *PanelServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Sessions.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *PanelServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Sessions.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.AgentInfos())
}

func (s *PanelServer) handleListThreads(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Sessions.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.ThreadInfos())
}

func (s *PanelServer) handleGetThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Sessions.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	for _, info := range sess.ThreadInfos() {
		if info.ID == r.PathValue("threadId") {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "thread not found")
}

func (s *PanelServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Sessions.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs, ok := sess.MessageInfos(r.PathValue("threadId"))
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleQuery runs a jq expression against the dashboard snapshot, e.g.
// /api/query?q=.sessions[].id
func (s *PanelServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("q")
	if expr == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid jq expression: %v", err))
		return
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(s.dashboard())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "serialize dashboard")
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "deserialize dashboard")
		return
	}

	results := make([]any, 0)
	iter := query.RunWithContext(r.Context(), doc)
	for len(results) < maxQueryResults {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, isErr := v.(error); isErr {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("query failed: %v", iterErr))
			return
		}
		results = append(results, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleArchive lists archived events when archiving is enabled.
func (s *PanelServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "archive is not enabled")
		return
	}

	filter := archive.Filter{
		SessionID: r.URL.Query().Get("sessionId"),
		EventType: r.URL.Query().Get("eventType"),
		AfterID:   int64(queryInt(r, "afterId", 0)),
		Limit:     queryInt(r, "limit", 100),
	}
	events, err := s.deps.Archive.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	if events == nil {
		events = []archive.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
