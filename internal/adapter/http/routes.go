package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AgentMesh/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	// Health endpoints (outside auth)
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.HealthReady)

	// Event stream for agents; authenticated via the token query parameter.
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Auth
		r.Post("/auth/login", h.Login)
		r.Post("/auth/refresh", h.RefreshToken)
		r.Post("/auth/logout", h.Logout)
		r.Post("/auth/change-password", h.ChangePassword)
		r.Get("/auth/me", h.Me)
		r.With(middleware.RequireAdmin).Post("/auth/register", h.RegisterUser)

		// Project registry
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/discoverable", h.ListDiscoverableProjects)
		r.Get("/projects/{projectID}", h.GetProject)
		r.Put("/projects/{projectID}", h.UpdateProject)
		r.Delete("/projects/{projectID}", h.DeleteProject)
		r.Post("/projects/{projectID}/keys/rotate", h.RotateAllAPIKeys)
		r.Post("/projects/{projectID}/keys/{keyID}/rotate", h.RotateAPIKey)
		r.Post("/projects/{projectID}/statistics/refresh", h.RefreshStatistics)

		// Cross-project permissions
		r.Post("/projects/{projectID}/permissions", h.GrantPermission)
		r.Delete("/projects/{projectID}/permissions/{targetID}", h.RevokePermission)

		// Protocols
		r.Get("/projects/{projectID}/protocols", h.DiscoverProtocols)
		r.Post("/projects/{projectID}/protocols", h.RegisterProtocol)
		r.Get("/projects/{projectID}/protocols/{name}/{version}", h.GetProtocol)
		r.Delete("/projects/{projectID}/protocols/{name}/{version}", h.DeleteProtocol)
		r.Post("/projects/{projectID}/protocols/{name}/{version}/share", h.ShareProtocol)
		r.Delete("/projects/{projectID}/protocols/{name}/{version}/share", h.UnshareProtocol)

		// Sessions
		r.Get("/projects/{projectID}/sessions", h.ListSessions)
		r.Post("/projects/{projectID}/sessions", h.CreateSession)
		r.Get("/projects/{projectID}/sessions/{sessionID}", h.GetSession)
		r.Post("/projects/{projectID}/sessions/{sessionID}/heartbeat", h.Heartbeat)
		r.Post("/projects/{projectID}/sessions/{sessionID}/disconnect", h.DisconnectSession)
		r.Post("/projects/{projectID}/sessions/{sessionID}/drain", h.DrainQueue)

		// Capability negotiation
		r.Get("/projects/{projectID}/negotiate", h.Negotiate)
		r.Get("/projects/{projectID}/compatibility", h.CompatibilityMatrix)
		r.Post("/negotiate/cross-project", h.NegotiateCrossProject)

		// Message routing
		r.Post("/projects/{projectID}/messages", h.SendMessage)
		r.Post("/projects/{projectID}/broadcast", h.BroadcastMessage)
		r.Get("/projects/{projectID}/statistics/messages", h.MessageStatistics)
		r.Post("/messages/cross-project", h.CrossProjectSend)

		// Agents
		r.Post("/projects/{projectID}/agents", h.RegisterAgent)
		r.Get("/projects/{projectID}/agents", h.ListAgents)
		r.Get("/agents/{agentID}", h.GetAgent)
		r.Put("/agents/{agentID}/status", h.SetAgentStatus)
		r.Post("/agents/{agentID}/deactivate", h.DeactivateAgent)

		// Meetings
		r.Get("/meetings", h.ListMeetings)
		r.Post("/meetings", h.CreateMeeting)
		r.Get("/meetings/{meetingID}", h.GetMeeting)
		r.Get("/meetings/{meetingID}/participants", h.ListParticipants)
		r.Post("/meetings/{meetingID}/participants", h.AddParticipant)
		r.Get("/meetings/{meetingID}/messages", h.Transcript)
		r.Post("/meetings/{meetingID}/messages", h.RecordMessage)
		r.Get("/meetings/{meetingID}/decisions", h.ListDecisions)
		r.Post("/meetings/{meetingID}/decisions", h.RecordDecision)

		// Discussion coordination
		r.Post("/meetings/{meetingID}/start", h.StartDiscussion)
		r.Get("/meetings/{meetingID}/discussion", h.DiscussionState)
		r.Post("/meetings/{meetingID}/pause", h.PauseDiscussion)
		r.Post("/meetings/{meetingID}/resume", h.ResumeDiscussion)
		r.Post("/meetings/{meetingID}/cancel", h.CancelDiscussion)
	})
}
