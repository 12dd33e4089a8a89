package http

import (
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/domain/agent"
)

type registerAgentRequest struct {
	Nickname     string            `json:"nickname"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// RegisterAgent creates an agent in the project and returns the one-time
// plaintext token.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	req, ok := readJSON[registerAgentRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Nickname, "nickname") {
		return
	}
	createdBy := ""
	if id := identity(r); id.User != nil {
		createdBy = id.User.UserID
	}
	result, err := h.Agents.Register(r.Context(), projectID, req.Nickname, req.Capabilities, createdBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	agents, err := h.Agents.List(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !authorizeProject(w, r, a.ProjectID) {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type agentStatusRequest struct {
	Status agent.Status `json:"status"`
}

// SetAgentStatus updates the agent's presence status.
func (h *Handlers) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !authorizeProject(w, r, a.ProjectID) {
		return
	}
	req, ok := readJSON[agentStatusRequest](w, r)
	if !ok {
		return
	}
	updated, err := h.Agents.SetStatus(r.Context(), a.ID, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeactivateAgent disables the agent and its token.
func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !authorizeProjectAdmin(w, r, a.ProjectID) {
		return
	}
	if err := h.Agents.Deactivate(r.Context(), a.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
