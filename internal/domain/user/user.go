// Package user defines authenticated human users, their credentials, and
// JWT claims.
package user

import (
	"fmt"
	"net/mail"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRoles is the set of recognized roles.
var ValidRoles = map[string]bool{
	RoleAdmin:  true,
	RoleMember: true,
}

// MinPasswordLen is the minimum plaintext password length.
const MinPasswordLen = 12

// User is an authenticated human actor.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"-"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions,omitempty"`
	IsActive     bool     `json:"is_active"`
}

// TokenClaims are the JWT claims carried by access and refresh tokens.
type TokenClaims struct {
	Subject   string `json:"sub"`
	Type      string `json:"type"` // "access" or "refresh"
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	IssuedAt  int64  `json:"iat"`
	Expiry    int64  `json:"exp"`
	JTI       string `json:"jti"`
	Audience  string `json:"aud"`
	Issuer    string `json:"iss"`
}

// Token types.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// CreateRequest is the input for registering a user.
type CreateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Validate checks the registration request.
func (r *CreateRequest) Validate() error {
	if r.Username == "" {
		return fmt.Errorf("username is required: %w", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("invalid email: %w", domain.ErrValidation)
	}
	if len(r.Password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters: %w", MinPasswordLen, domain.ErrValidation)
	}
	if r.Role != "" && !ValidRoles[r.Role] {
		return fmt.Errorf("invalid role %q: %w", r.Role, domain.ErrValidation)
	}
	return nil
}

// LoginRequest is the input for password authentication.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks the login request.
func (r *LoginRequest) Validate() error {
	if r.Username == "" || r.Password == "" {
		return fmt.Errorf("username and password are required: %w", domain.ErrValidation)
	}
	return nil
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}
