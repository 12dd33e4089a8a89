package project

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Admin key IDs. Keys minted with one of these identify a project
// administrator and bypass cross-project restrictions.
const (
	KeyIDAdmin = "admin"
	KeyIDOwner = "owner"
)

// secretBytes is the entropy per API key secret. 32 bytes of URL-safe
// base64 encode to 43 characters, satisfying the >=32 char contract.
const secretBytes = 32

// APIKey is a credential scoped to one project. Only the SHA-256 hash of
// the plaintext is stored; the plaintext is returned once at mint time.
type APIKey struct {
	KeyID     string     `json:"key_id"`
	Hash      string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // set during rotation grace
	IsActive  bool       `json:"is_active"`
}

// IsAdmin reports whether the key identifies a project administrator.
func (k *APIKey) IsAdmin() bool {
	return k.KeyID == KeyIDAdmin || k.KeyID == KeyIDOwner
}

// Expired reports whether the key's grace period has elapsed at t.
func (k *APIKey) Expired(t time.Time) bool {
	return k.ExpiresAt != nil && t.After(*k.ExpiresAt)
}

// MintAPIKey generates a fresh key for the project and key ID.
// It returns the stored record and the plaintext in the wire format
// {project_id}_{key_id}_{secret}.
func MintAPIKey(projectID, keyID string, now time.Time) (APIKey, string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return APIKey{}, "", fmt.Errorf("generate api key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	plaintext := projectID + "_" + keyID + "_" + secret

	return APIKey{
		KeyID:     keyID,
		Hash:      HashAPIKey(plaintext),
		CreatedAt: now,
		IsActive:  true,
	}, plaintext, nil
}

// HashAPIKey returns the hex SHA-256 of an API key plaintext.
func HashAPIKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// ParseAPIKey splits a plaintext key into (project_id, key_id, secret).
// It splits from the right so project IDs may contain underscores.
func ParseAPIKey(plaintext string) (projectID, keyID, secret string, err error) {
	last := strings.LastIndex(plaintext, "_")
	if last < 0 {
		return "", "", "", fmt.Errorf("malformed api key: %w", domain.ErrValidation)
	}
	secret = plaintext[last+1:]

	rest := plaintext[:last]
	mid := strings.LastIndex(rest, "_")
	if mid < 0 {
		return "", "", "", fmt.Errorf("malformed api key: %w", domain.ErrValidation)
	}
	projectID, keyID = rest[:mid], rest[mid+1:]

	if projectID == "" || keyID == "" || len(secret) < 32 {
		return "", "", "", fmt.Errorf("malformed api key: %w", domain.ErrValidation)
	}
	return projectID, keyID, secret, nil
}
