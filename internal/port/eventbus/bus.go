// Package eventbus defines the meeting event fan-out port.
package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Event type constants published by the discussion coordinator.
const (
	EventAgentJoined          = "agent_joined"
	EventAgentLeft            = "agent_left"
	EventRoundStarted         = "round_started"
	EventOpinionRequest       = "opinion_request"
	EventOpinionPresented     = "opinion_presented"
	EventConsensusVoteRequest = "consensus_vote_request"
	EventConsensusReached     = "consensus_reached"
	EventRoundCompleted       = "round_completed"
	EventDiscussionPaused     = "discussion_paused"
	EventDiscussionResumed    = "discussion_resumed"
	EventStateSync            = "state_sync"
	EventDecisionRecorded     = "decision_recorded"
	EventMeetingCompleted     = "meeting_completed"
)

// Event is the envelope delivered to every meeting subscriber.
type Event struct {
	Type           string          `json:"type"`
	MeetingID      string          `json:"meeting_id"`
	Timestamp      time.Time       `json:"timestamp"`
	SequenceNumber int64           `json:"sequence_number,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Bus fans meeting events out to live subscribers. Delivery is best-effort;
// within a single subscriber, publication order is preserved. Late joiners
// obtain state via a state_sync event.
type Bus interface {
	Publish(ctx context.Context, evt Event)
	// PublishTo delivers an event to a single subscriber (state_sync replies).
	PublishTo(ctx context.Context, meetingID, agentID string, evt Event)
	SubscriberCount(meetingID string) int
}
