package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
)

type createSessionRequest struct {
	SessionID    string               `json:"session_id"`
	Capabilities session.Capabilities `json:"capabilities"`
}

// CreateSession registers a session. Re-registering an existing session id
// is a takeover: the previous queue is dropped.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	req, ok := readJSON[createSessionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.SessionID, "session_id") {
		return
	}
	sess, err := h.Sessions.Create(r.Context(), projectID, req.SessionID, req.Capabilities)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions lists sessions, optionally filtered by ?status=.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	filter := brokerstore.SessionFilter{Status: session.Status(r.URL.Query().Get("status"))}
	sessions, err := h.Sessions.List(r.Context(), projectID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	sess, err := h.Sessions.Get(r.Context(), projectID, urlParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Heartbeat refreshes the session liveness clock and revives stale sessions.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	sess, err := h.Sessions.Heartbeat(r.Context(), projectID, urlParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DisconnectSession transitions a session to its terminal state. The queue
// stays drainable until the GC pass removes the row.
func (h *Handlers) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	if err := h.Sessions.Disconnect(r.Context(), projectID, urlParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type drainResponse struct {
	Messages []message.Message `json:"messages"`
	Expired  int               `json:"expired"`
}

// DrainQueue pops queued messages for the session. ?limit= caps the batch;
// expired messages are dropped and counted, not returned.
func (h *Handlers) DrainQueue(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	msgs, expired, err := h.Sessions.Drain(r.Context(), projectID, urlParam(r, "sessionID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Router.CountExpired(r.Context(), projectID, expired)
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, drainResponse{Messages: msgs, Expired: expired})
}

// Negotiate computes the agreed protocols and common features between two
// sessions of the project.
func (h *Handlers) Negotiate(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	q := r.URL.Query()
	a, b := q.Get("session_a"), q.Get("session_b")
	if !requireField(w, a, "session_a") || !requireField(w, b, "session_b") {
		return
	}
	neg, err := h.Negotiator.Negotiate(r.Context(), projectID, a, b)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, neg)
}

type crossNegotiateRequest struct {
	ProjectA string `json:"project_a"`
	SessionA string `json:"session_a"`
	ProjectB string `json:"project_b"`
	SessionB string `json:"session_b"`
}

// NegotiateCrossProject negotiates across namespaces. A pair the access
// policy keeps apart gets an incompatible result, not an error.
func (h *Handlers) NegotiateCrossProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[crossNegotiateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ProjectA, "project_a") || !requireField(w, req.SessionA, "session_a") ||
		!requireField(w, req.ProjectB, "project_b") || !requireField(w, req.SessionB, "session_b") {
		return
	}
	if !authorizeProject(w, r, req.ProjectA) {
		return
	}
	neg, err := h.Negotiator.NegotiateCrossProject(r.Context(),
		req.ProjectA, req.SessionA, req.ProjectB, req.SessionB, identity(r).IsAdmin())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, neg)
}

// CompatibilityMatrix reports pairwise negotiation results for all live
// sessions of the project, plus any ?peers= projects the caller may read.
// Cross-project pairs negotiate only with ?allow_cross_project=true.
func (h *Handlers) CompatibilityMatrix(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	q := r.URL.Query()
	projects := append([]string{projectID}, q["peers"]...)
	allowCross := q.Get("allow_cross_project") == "true"
	matrix, err := h.Negotiator.CompatibilityMatrix(r.Context(), projects, allowCross)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}
