package http

import (
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/domain/user"
)

// Login exchanges credentials for an access/refresh token pair.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r)
	if !ok {
		return
	}
	pair, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken rotates a refresh token into a fresh pair. The presented
// refresh token is consumed.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[refreshRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.RefreshToken, "refresh_token") {
		return
	}
	pair, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes the caller's access token and deletes the refresh token.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil || id.User == nil {
		writeError(w, http.StatusUnauthorized, "user token required")
		return
	}
	req, ok := readJSON[refreshRequest](w, r)
	if !ok {
		return
	}
	if err := h.Auth.Logout(r.Context(), id.User, req.RefreshToken); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterUser creates a user account. Admin only.
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Auth.Register(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword updates the caller's own password.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil || id.User == nil {
		writeError(w, http.StatusUnauthorized, "user token required")
		return
	}
	req, ok := readJSON[changePasswordRequest](w, r)
	if !ok {
		return
	}
	if err := h.Auth.ChangePassword(r.Context(), id.User.UserID, req.OldPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user's token claims.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil || id.User == nil {
		writeError(w, http.StatusUnauthorized, "user token required")
		return
	}
	writeJSON(w, http.StatusOK, id.User)
}
