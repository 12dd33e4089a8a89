// Package agent defines authenticated broker agents and their API keys.
// An agent is a long-lived identity; its sessions come and go.
package agent

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

// Status represents an agent's presence as reported to dashboards.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
)

// Agent is an authenticated machine actor bound to a project.
type Agent struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Nickname     string            `json:"nickname"`
	TokenHash    string            `json:"-"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Status       Status            `json:"status"`
	IsActive     bool              `json:"is_active"`
	LastUsed     *time.Time        `json:"last_used,omitempty"`
}

// APIKey persists an agent token hash. CreatedByID is a nullable reference
// to the user who minted the key; agent keys survive creator deletion.
type APIKey struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	TokenHash   string     `json:"-"`
	CreatedByID *string    `json:"created_by_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// tokenSecretBytes is the entropy per agent token secret.
const tokenSecretBytes = 32

// MintToken generates an agent token with wire format
// {project_id}_{nickname}_{secret}. Only the hash is persisted.
func MintToken(projectID, nickname string) (plaintext, hash string, err error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate agent token: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	plaintext = projectID + "_" + nickname + "_" + secret
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the hex SHA-256 of an agent token plaintext.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// ParseToken splits a plaintext token into (project_id, nickname).
// It splits from the right so project IDs may contain underscores.
func ParseToken(plaintext string) (projectID, nickname string, err error) {
	last := strings.LastIndex(plaintext, "_")
	if last < 0 {
		return "", "", fmt.Errorf("malformed agent token: %w", domain.ErrValidation)
	}
	rest := plaintext[:last]
	mid := strings.LastIndex(rest, "_")
	if mid < 0 {
		return "", "", fmt.Errorf("malformed agent token: %w", domain.ErrValidation)
	}
	projectID, nickname = rest[:mid], rest[mid+1:]
	if projectID == "" || nickname == "" {
		return "", "", fmt.Errorf("malformed agent token: %w", domain.ErrValidation)
	}
	return projectID, nickname, nil
}
