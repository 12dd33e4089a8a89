package http

import (
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// SendMessage routes one point-to-point message inside the project.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	msg, ok := readJSON[message.Message](w, r)
	if !ok {
		return
	}
	result, err := h.Router.Send(r.Context(), projectID, &msg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type broadcastRequest struct {
	Message          message.Message `json:"message"`
	CapabilityFilter []string        `json:"capability_filter,omitempty"`
}

// BroadcastMessage fans a message out to every live session of the project,
// optionally restricted to sessions advertising all filter capabilities.
func (h *Handlers) BroadcastMessage(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	req, ok := readJSON[broadcastRequest](w, r)
	if !ok {
		return
	}
	result, err := h.Router.Broadcast(r.Context(), projectID, &req.Message, req.CapabilityFilter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CrossProjectSend routes a message into another project's namespace,
// subject to access policy, protocol whitelist, and the per-permission
// rate window.
func (h *Handlers) CrossProjectSend(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.CrossSendRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.SenderProject, "sender_project") ||
		!requireField(w, req.RecipientProject, "recipient_project") {
		return
	}
	if !authorizeProject(w, r, req.SenderProject) {
		return
	}
	req.IsAdmin = identity(r).IsAdmin()
	result, err := h.Cross.Send(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// MessageStatistics returns the project's routing counters.
func (h *Handlers) MessageStatistics(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	writeJSON(w, http.StatusOK, h.Router.Statistics(projectID))
}
