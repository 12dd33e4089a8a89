// Package project defines the project namespace: the root isolation unit
// that owns protocols, sessions, message queues, API keys, and
// cross-project permissions.
package project

import "time"

// Status represents the lifecycle state of a project.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Config holds per-project limits and cross-project policy.
type Config struct {
	MaxSessions         int             `json:"max_sessions" yaml:"max_sessions"`
	MaxProtocols        int             `json:"max_protocols" yaml:"max_protocols"`
	MaxMessageQueueSize int             `json:"max_message_queue_size" yaml:"max_message_queue_size"`
	AllowCrossProject   bool            `json:"allow_cross_project" yaml:"allow_cross_project"`
	Discoverable        bool            `json:"discoverable" yaml:"discoverable"`
	ProtocolShares      []ProtocolShare `json:"protocol_shares,omitempty" yaml:"protocol_shares,omitempty"`
}

// ProtocolShare grants one target project discovery access to a specific
// protocol version owned by this project.
type ProtocolShare struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	TargetProjectID string `json:"target_project_id"`
}

// SharedWith reports whether the project shares (name, version) with the
// target project.
func (p *Project) SharedWith(targetProjectID, name, version string) bool {
	for _, sh := range p.Config.ProtocolShares {
		if sh.TargetProjectID == targetProjectID && sh.Name == name && sh.Version == version {
			return true
		}
	}
	return false
}

// DefaultConfig returns the config applied when a creation request omits one.
func DefaultConfig() Config {
	return Config{
		MaxSessions:         100,
		MaxProtocols:        50,
		MaxMessageQueueSize: 100,
		AllowCrossProject:   false,
		Discoverable:        true,
	}
}

// Statistics tracks per-project activity counters.
type Statistics struct {
	SessionCount  int       `json:"session_count"`
	MessageCount  int64     `json:"message_count"`
	ProtocolCount int       `json:"protocol_count"`
	LastActivity  time.Time `json:"last_activity"`
}

// Metadata holds descriptive project attributes.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Owner       string   `json:"owner,omitempty"`
}

// Project is the root isolation unit of the broker.
type Project struct {
	ID          string                   `json:"project_id"`
	Metadata    Metadata                 `json:"metadata"`
	Config      Config                   `json:"config"`
	Statistics  Statistics               `json:"statistics"`
	Status      Status                   `json:"status"`
	APIKeys     []APIKey                 `json:"api_keys,omitempty"`
	Permissions []CrossProjectPermission `json:"permissions,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Permission returns the cross-project permission for the given target
// project, or nil when none is configured.
func (p *Project) Permission(targetProjectID string) *CrossProjectPermission {
	for i := range p.Permissions {
		if p.Permissions[i].TargetProjectID == targetProjectID {
			return &p.Permissions[i]
		}
	}
	return nil
}

// CrossProjectPermission grants a sender project the right to address a
// specific target project.
type CrossProjectPermission struct {
	TargetProjectID  string   `json:"target_project_id"`
	AllowedProtocols []string `json:"allowed_protocols,omitempty"` // empty = any protocol
	MessageRateLimit int      `json:"message_rate_limit"`          // messages/minute; 0 = unlimited
}

// AllowsProtocol reports whether the permission covers the given protocol.
// An empty whitelist acts as a wildcard.
func (p *CrossProjectPermission) AllowsProtocol(name string) bool {
	if len(p.AllowedProtocols) == 0 {
		return true
	}
	for _, allowed := range p.AllowedProtocols {
		if allowed == name {
			return true
		}
	}
	return false
}

// CreateRequest is the input for creating a project.
type CreateRequest struct {
	ID          string   `json:"project_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Config      *Config  `json:"config,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Owner       string   `json:"owner,omitempty"`
}

// UpdateRequest carries optional project updates; nil fields are unchanged.
type UpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Config      *Config  `json:"config,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      *Status  `json:"status,omitempty"`
}

// ListFilter narrows project listings. Projects that opted out of discovery
// stay hidden unless IncludeHidden is set.
type ListFilter struct {
	Name            string
	IncludeInactive bool
	IncludeHidden   bool
	IncludeStats    bool
}

// MessageStatistics tracks routing outcomes per project.
type MessageStatistics struct {
	TotalSent      int64     `json:"total_sent"`
	TotalDelivered int64     `json:"total_delivered"`
	TotalQueued    int64     `json:"total_queued"`
	TotalFailed    int64     `json:"total_failed"`
	TotalBroadcast int64     `json:"total_broadcast"`
	TotalExpired   int64     `json:"total_expired"`
	LastActivity   time.Time `json:"last_activity"`
}
