// Package session defines a logical agent's presence in the broker: its
// capabilities, heartbeat-driven liveness, and bounded message queue.
package session

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Status represents the liveness state of a session.
type Status string

const (
	StatusActive       Status = "active"
	StatusStale        Status = "stale"
	StatusDisconnected Status = "disconnected" // terminal
)

// Capabilities advertises what a session can speak and do.
type Capabilities struct {
	// SupportedProtocols maps protocol name to the versions the session speaks.
	SupportedProtocols map[string][]string `json:"supported_protocols,omitempty"`
	SupportedFeatures  []string            `json:"supported_features,omitempty"`
}

// Speaks reports whether the capabilities include the protocol at the exact version.
func (c Capabilities) Speaks(name, version string) bool {
	for _, v := range c.SupportedProtocols[name] {
		if v == version {
			return true
		}
	}
	return false
}

// FeatureSet returns the supported features as a set.
func (c Capabilities) FeatureSet() map[string]bool {
	set := make(map[string]bool, len(c.SupportedFeatures))
	for _, f := range c.SupportedFeatures {
		set[f] = true
	}
	return set
}

// HasFeatures reports whether every feature in want is supported.
func (c Capabilities) HasFeatures(want []string) bool {
	set := c.FeatureSet()
	for _, f := range want {
		if !set[f] {
			return false
		}
	}
	return true
}

// Session is one agent's presence in a project.
type Session struct {
	ID             string       `json:"session_id"`
	ProjectID      string       `json:"project_id"`
	ConnectionTime time.Time    `json:"connection_time"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	Status         Status       `json:"status"`
	Capabilities   Capabilities `json:"capabilities"`
	QueueSize      int          `json:"queue_size"`
}

// Live reports whether the session can receive immediate delivery.
func (s *Session) Live() bool {
	return s.Status == StatusActive || s.Status == StatusStale
}

// Transition applies a status change, rejecting moves out of the terminal
// disconnected state.
func (s *Session) Transition(to Status) error {
	if s.Status == StatusDisconnected && to != StatusDisconnected {
		return fmt.Errorf("session %s is disconnected: %w", s.ID, domain.ErrInvalidState)
	}
	s.Status = to
	return nil
}

// Heartbeat records liveness at t. A stale session recovers to active;
// a disconnected session stays disconnected.
func (s *Session) Heartbeat(t time.Time) error {
	if s.Status == StatusDisconnected {
		return fmt.Errorf("session %s is disconnected: %w", s.ID, domain.ErrInvalidState)
	}
	s.LastHeartbeat = t
	s.Status = StatusActive
	return nil
}
