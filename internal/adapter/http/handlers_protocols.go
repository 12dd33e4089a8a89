package http

import (
	"net/http"
	"strings"

	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// RegisterProtocol adds a protocol definition to the project namespace.
func (h *Handlers) RegisterProtocol(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	p, ok := readJSON[protocol.Protocol](w, r)
	if !ok {
		return
	}
	registered, err := h.Protocols.Register(r.Context(), projectID, &p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

// DiscoverProtocols lists protocols visible to the project. Query parameters:
// name, version, tags (comma-separated, all must match), include_shared.
func (h *Handlers) DiscoverProtocols(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	q := r.URL.Query()
	filter := service.DiscoverFilter{
		Name:          q.Get("name"),
		Version:       q.Get("version"),
		IncludeShared: q.Get("include_shared") == "true",
	}
	if raw := q.Get("tags"); raw != "" {
		filter.Tags = strings.Split(raw, ",")
	}
	protocols, err := h.Protocols.Discover(r.Context(), projectID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocols)
}

func (h *Handlers) GetProtocol(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	p, err := h.Protocols.Get(r.Context(), projectID, urlParam(r, "name"), urlParam(r, "version"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type shareProtocolRequest struct {
	TargetProjectID string `json:"target_project_id"`
}

// ShareProtocol grants the target project discovery access to one protocol
// version of this project.
func (h *Handlers) ShareProtocol(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	req, ok := readJSON[shareProtocolRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.TargetProjectID, "target_project_id") {
		return
	}
	err := h.Protocols.Share(r.Context(), projectID,
		urlParam(r, "name"), urlParam(r, "version"), req.TargetProjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnshareProtocol revokes a share grant; the target comes from ?target=.
func (h *Handlers) UnshareProtocol(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	target := r.URL.Query().Get("target")
	if !requireField(w, target, "target") {
		return
	}
	err := h.Protocols.Unshare(r.Context(), projectID,
		urlParam(r, "name"), urlParam(r, "version"), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteProtocol removes a protocol version. Refused while a live session
// still advertises it.
func (h *Handlers) DeleteProtocol(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	if err := h.Protocols.Delete(r.Context(), projectID, urlParam(r, "name"), urlParam(r, "version")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
