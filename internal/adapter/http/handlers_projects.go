package http

import (
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/domain/project"
)

// CreateProject registers a project and returns it together with the
// one-time plaintext admin key.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil || (id.User == nil && !id.IsAdmin()) {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return
	}
	req, ok := readJSON[project.CreateRequest](w, r)
	if !ok {
		return
	}
	result, err := h.Registry.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListProjects lists registered projects. Query parameters: name,
// include_inactive, include_hidden, include_stats.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := project.ListFilter{
		Name:            q.Get("name"),
		IncludeInactive: q.Get("include_inactive") == "true",
		IncludeHidden:   q.Get("include_hidden") == "true",
		IncludeStats:    q.Get("include_stats") == "true",
	}
	projects, err := h.Registry.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// ListDiscoverableProjects lists projects that opted into discovery.
func (h *Handlers) ListDiscoverableProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Registry.Discoverable(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	p, err := h.Registry.Get(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	req, ok := readJSON[project.UpdateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Registry.Update(r.Context(), projectID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject removes a project. ?force=true evicts live sessions first.
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.Registry.Delete(r.Context(), projectID, force); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey mints a replacement for the named key. The old key keeps
// working for the rotation grace period.
func (h *Handlers) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	keyID := urlParam(r, "keyID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	fresh, err := h.Registry.RotateAPIKeys(r.Context(), projectID, keyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"key_id":  keyID,
		"api_key": fresh[keyID],
	})
}

// RotateAllAPIKeys rotates every key of the project in one shot.
func (h *Handlers) RotateAllAPIKeys(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	fresh, err := h.Registry.RotateAPIKeys(r.Context(), projectID, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": fresh})
}

// RefreshStatistics recomputes live session and queue counters.
func (h *Handlers) RefreshStatistics(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProject(w, r, projectID) {
		return
	}
	stats, err := h.Registry.RefreshStatistics(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GrantPermission allows projectID to send into the target project.
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	perm, ok := readJSON[project.CrossProjectPermission](w, r)
	if !ok {
		return
	}
	if !requireField(w, perm.TargetProjectID, "target_project_id") {
		return
	}
	if err := h.Policy.GrantPermission(r.Context(), projectID, perm); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "projectID")
	targetID := urlParam(r, "targetID")
	if !authorizeProjectAdmin(w, r, projectID) {
		return
	}
	if err := h.Policy.RevokePermission(r.Context(), projectID, targetID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
