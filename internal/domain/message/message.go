// Package message defines the broker's message envelope: addressing,
// priority, TTL, and payload validation.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Priority orders delivery within a session queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank maps priorities to dequeue order; higher dequeues first.
var rank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank returns the numeric dequeue rank of a priority. Unknown values rank
// as normal.
func (p Priority) Rank() int {
	if r, ok := rank[p]; ok {
		return r
	}
	return rank[PriorityNormal]
}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	_, ok := rank[p]
	return ok
}

// MaxPayloadBytes bounds the serialized payload size.
const MaxPayloadBytes = 10 << 20 // 10 MiB

// Headers carry delivery metadata.
type Headers struct {
	Priority   Priority          `json:"priority,omitempty"`
	TTLSeconds int               `json:"ttl,omitempty"` // 0 = no expiry
	Custom     map[string]string `json:"custom,omitempty"`
}

// Message is the unit of point-to-point and broadcast delivery.
type Message struct {
	ID              string          `json:"message_id"`
	SenderID        string          `json:"sender_id"`
	RecipientID     string          `json:"recipient_id,omitempty"` // empty = broadcast
	Timestamp       time.Time       `json:"timestamp"`
	ProtocolName    string          `json:"protocol_name"`
	ProtocolVersion string          `json:"protocol_version"`
	Payload         json.RawMessage `json:"payload"`
	Headers         Headers         `json:"headers"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

// Validate checks the message envelope and payload bounds.
func (m *Message) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("sender_id is required: %w", domain.ErrValidation)
	}
	if m.ProtocolName == "" || m.ProtocolVersion == "" {
		return fmt.Errorf("protocol name and version are required: %w", domain.ErrValidation)
	}
	if len(m.Payload) == 0 || string(m.Payload) == "null" || string(m.Payload) == "{}" {
		return fmt.Errorf("payload must be a non-empty object: %w", domain.ErrValidation)
	}
	if len(m.Payload) > MaxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes: %w", MaxPayloadBytes, domain.ErrValidation)
	}
	if !json.Valid(m.Payload) {
		return fmt.Errorf("payload is not valid JSON: %w", domain.ErrValidation)
	}
	if m.Headers.Priority != "" && !m.Headers.Priority.Valid() {
		return fmt.Errorf("priority %q is not one of low/normal/high/urgent: %w", m.Headers.Priority, domain.ErrValidation)
	}
	if m.Headers.TTLSeconds < 0 {
		return fmt.Errorf("ttl must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// ExpiredAt reports whether the message TTL has elapsed at t.
func (m *Message) ExpiredAt(t time.Time) bool {
	if m.Headers.TTLSeconds <= 0 {
		return false
	}
	return t.After(m.Timestamp.Add(time.Duration(m.Headers.TTLSeconds) * time.Second))
}
