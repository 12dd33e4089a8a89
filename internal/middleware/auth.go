package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/AgentMesh/internal/domain/agent"
	"github.com/Strob0t/AgentMesh/internal/domain/user"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// Identity is the resolved caller of a request: exactly one of User,
// ProjectKey, or Agent is set.
type Identity struct {
	User       *user.TokenClaims
	ProjectKey *service.KeyIdentity
	Agent      *agent.Agent
}

// IsAdmin reports whether the identity carries administrative rights.
func (id *Identity) IsAdmin() bool {
	switch {
	case id.User != nil:
		return id.User.Role == user.RoleAdmin
	case id.ProjectKey != nil:
		return id.ProjectKey.IsAdmin
	default:
		return false
	}
}

// ProjectID returns the project the identity is scoped to, or "" for
// user identities, which are not project-bound.
func (id *Identity) ProjectID() string {
	switch {
	case id.ProjectKey != nil:
		return id.ProjectKey.ProjectID
	case id.Agent != nil:
		return id.Agent.ProjectID
	default:
		return ""
	}
}

type identityCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":              true,
	"/health/ready":        true,
	"/api/v1/auth/login":   true,
	"/api/v1/auth/refresh": true,
}

// Auth validates credentials in order: X-API-Key (project key), X-Agent-Token
// (agent bearer token), then Authorization: Bearer (user JWT). WebSocket
// upgrades authenticate via the token query parameter.
func Auth(authSvc *service.AuthService, registry *service.RegistryService, agents *service.AgentService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if r.URL.Path == "/ws" {
				token := r.URL.Query().Get("token")
				if token == "" {
					unauthorized(w, "authorization required")
					return
				}
				a, err := agents.ValidateToken(r.Context(), token)
				if err != nil {
					unauthorized(w, "invalid agent token")
					return
				}
				serveWithIdentity(next, w, r, &Identity{Agent: a})
				return
			}

			if raw := r.Header.Get("X-API-Key"); raw != "" {
				key, err := registry.ValidateAPIKey(r.Context(), raw)
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				serveWithIdentity(next, w, r, &Identity{ProjectKey: key})
				return
			}

			if raw := r.Header.Get("X-Agent-Token"); raw != "" {
				a, err := agents.ValidateToken(r.Context(), raw)
				if err != nil {
					unauthorized(w, "invalid agent token")
					return
				}
				serveWithIdentity(next, w, r, &Identity{Agent: a})
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "authorization required")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				unauthorized(w, "invalid authorization header")
				return
			}
			claims, err := authSvc.ValidateAccessToken(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			serveWithIdentity(next, w, r, &Identity{User: claims})
		})
	}
}

// RequireAdmin rejects non-admin identities.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || !id.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"admin privileges required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

// WithIdentity injects an identity into a context. Exported for handler tests.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

func serveWithIdentity(next http.Handler, w http.ResponseWriter, r *http.Request, id *Identity) {
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
