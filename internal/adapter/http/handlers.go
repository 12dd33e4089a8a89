// Package http exposes the broker and coordinator services over a REST API.
package http

import (
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/adapter/ws"
	"github.com/Strob0t/AgentMesh/internal/middleware"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Registry    *service.RegistryService
	Policy      *service.AdminPolicy
	Protocols   *service.ProtocolService
	Sessions    *service.SessionService
	Negotiator  *service.NegotiatorService
	Router      *service.RouterService
	Cross       *service.CrossProjectService
	Auth        *service.AuthService
	Agents      *service.AgentService
	Meetings    *service.MeetingService
	Coordinator *service.CoordinatorService
	Hub         *ws.Hub

	Ready func() error // readiness probe, usually a database ping
}

// identity returns the authenticated caller, or nil on public routes.
func identity(r *http.Request) *middleware.Identity {
	return middleware.IdentityFromContext(r.Context())
}

// authorizeProject checks that the caller may act inside projectID. User
// tokens are operator-scoped and may touch any project; project keys and
// agent tokens are confined to their own namespace.
func authorizeProject(w http.ResponseWriter, r *http.Request, projectID string) bool {
	id := identity(r)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return false
	}
	if id.User != nil {
		return true
	}
	if id.ProjectID() != projectID {
		writeError(w, http.StatusForbidden, "credentials are scoped to another project")
		return false
	}
	return true
}

// authorizeProjectAdmin is authorizeProject plus the admin requirement for
// management operations.
func authorizeProjectAdmin(w http.ResponseWriter, r *http.Request, projectID string) bool {
	if !authorizeProject(w, r, projectID) {
		return false
	}
	if !identity(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return false
	}
	return true
}
