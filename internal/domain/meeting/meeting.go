// Package meeting defines meetings, participants, transcript messages, and
// durable decisions for the discussion coordinator.
package meeting

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Status represents the lifecycle state of a meeting.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions encodes pending -> active -> {completed,failed,cancelled}.
// Cancellation is also allowed straight from pending.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Participant roles.
const (
	RoleModerator   = "moderator"
	RoleParticipant = "participant"
)

// MessageType classifies transcript entries.
type MessageType string

const (
	MessageStatement MessageType = "statement"
	MessageQuestion  MessageType = "question"
	MessageProposal  MessageType = "proposal"
	MessageOpinion   MessageType = "opinion"
	MessageConsensus MessageType = "consensus"
	MessageVote      MessageType = "vote"
)

// Meeting is a coordinated discussion among agents.
type Meeting struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Agenda              string     `json:"agenda,omitempty"`
	Status              Status     `json:"status"`
	MaxDiscussionRounds int        `json:"max_discussion_rounds"`
	CurrentRound        int        `json:"current_round"`
	MaxDurationSeconds  int        `json:"max_duration_seconds,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
}

// Transition moves the meeting to a new status, stamping started_at/ended_at.
func (m *Meeting) Transition(to Status, now time.Time) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("meeting %s: %s -> %s: %w", m.ID, m.Status, to, domain.ErrInvalidState)
	}
	m.Status = to
	switch to {
	case StatusActive:
		m.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		m.EndedAt = &now
	}
	return nil
}

// Participant ties an agent into a meeting with a dense 1-based speaking order.
type Participant struct {
	MeetingID     string    `json:"meeting_id"`
	AgentID       string    `json:"agent_id"`
	Role          string    `json:"role"`
	SpeakingOrder int       `json:"speaking_order"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Message is one transcript entry; sequence numbers are strictly increasing
// and gap-free per meeting.
type Message struct {
	MeetingID      string      `json:"meeting_id"`
	SequenceNumber int64       `json:"sequence_number"`
	AgentID        string      `json:"agent_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Decision statuses.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Decision is a durable record of a meeting outcome.
type Decision struct {
	ID                      string            `json:"id"`
	MeetingID               string            `json:"meeting_id"`
	Title                   string            `json:"title"`
	Description             string            `json:"description,omitempty"`
	Options                 []string          `json:"options,omitempty"`
	SelectedOption          string            `json:"selected_option,omitempty"`
	Rationale               string            `json:"rationale,omitempty"`
	ParticipantAgreement    map[string]string `json:"participant_agreement,omitempty"`
	RelatedCommunicationIDs []string          `json:"related_communication_ids,omitempty"`
	Status                  DecisionStatus    `json:"status"`
	DecidedAt               time.Time         `json:"decided_at"`
}

// Validate enforces that an approved decision names its selected option.
func (d *Decision) Validate() error {
	if d.MeetingID == "" {
		return fmt.Errorf("decision meeting_id is required: %w", domain.ErrValidation)
	}
	if d.Title == "" {
		return fmt.Errorf("decision title is required: %w", domain.ErrValidation)
	}
	if d.Status == DecisionApproved && d.SelectedOption == "" {
		return fmt.Errorf("approved decision requires selected_option: %w", domain.ErrValidation)
	}
	return nil
}

// CreateRequest is the input for creating a meeting.
type CreateRequest struct {
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	Agenda              string   `json:"agenda,omitempty"`
	ParticipantIDs      []string `json:"participant_ids"`
	MaxDiscussionRounds int      `json:"max_discussion_rounds,omitempty"`
	MaxDurationSeconds  int      `json:"max_duration_seconds,omitempty"`
}

// Validate checks the creation request.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if len(r.ParticipantIDs) < 2 {
		return fmt.Errorf("a meeting needs at least 2 participants: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.ParticipantIDs))
	for _, id := range r.ParticipantIDs {
		if id == "" {
			return fmt.Errorf("participant id cannot be empty: %w", domain.ErrValidation)
		}
		if seen[id] {
			return fmt.Errorf("duplicate participant %s: %w", id, domain.ErrValidation)
		}
		seen[id] = true
	}
	if r.MaxDiscussionRounds < 0 {
		return fmt.Errorf("max_discussion_rounds must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}
