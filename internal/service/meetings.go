package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentMesh/internal/adapter/otel"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// MeetingService manages meeting lifecycle, participants, the transcript,
// and decision records.
type MeetingService struct {
	store   database.Store
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewMeetingService creates a new MeetingService. metrics may be nil.
func NewMeetingService(store database.Store, metrics *otel.Metrics, log *slog.Logger) *MeetingService {
	return &MeetingService{store: store, metrics: metrics, log: log}
}

// Create registers a pending meeting. Participants get dense speaking
// orders in request order and the first one moderates.
func (s *MeetingService) Create(ctx context.Context, req *meeting.CreateRequest) (*meeting.Meeting, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &meeting.Meeting{
		ID:                  uuid.NewString(),
		Title:               req.Title,
		Description:         req.Description,
		Agenda:              req.Agenda,
		Status:              meeting.StatusPending,
		MaxDiscussionRounds: req.MaxDiscussionRounds,
		MaxDurationSeconds:  req.MaxDurationSeconds,
		CreatedAt:           now,
	}

	participants := make([]meeting.Participant, len(req.ParticipantIDs))
	for i, agentID := range req.ParticipantIDs {
		role := meeting.RoleParticipant
		if i == 0 {
			role = meeting.RoleModerator
		}
		participants[i] = meeting.Participant{
			MeetingID:     m.ID,
			AgentID:       agentID,
			Role:          role,
			SpeakingOrder: i + 1,
			JoinedAt:      now,
		}
	}

	if err := s.store.CreateMeeting(ctx, m, participants); err != nil {
		return nil, err
	}
	s.log.Info("meeting created", "meeting_id", m.ID, "title", m.Title,
		"participants", len(participants))
	return m, nil
}

// Get returns a meeting by ID.
func (s *MeetingService) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.store.GetMeeting(ctx, id)
}

// List returns meetings, optionally filtered by status.
func (s *MeetingService) List(ctx context.Context, status meeting.Status) ([]meeting.Meeting, error) {
	return s.store.ListMeetings(ctx, status)
}

// Participants returns the meeting roster in speaking order.
func (s *MeetingService) Participants(ctx context.Context, meetingID string) ([]meeting.Participant, error) {
	return s.store.ListParticipants(ctx, meetingID)
}

// Start moves a pending meeting to active.
func (s *MeetingService) Start(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.transition(ctx, id, meeting.StatusActive)
}

// Complete moves an active meeting to completed.
func (s *MeetingService) Complete(ctx context.Context, id string) (*meeting.Meeting, error) {
	m, err := s.transition(ctx, id, meeting.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.MeetingsCompleted.Add(ctx, 1)
	}
	return m, nil
}

// Fail moves an active meeting to failed.
func (s *MeetingService) Fail(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.transition(ctx, id, meeting.StatusFailed)
}

// Cancel moves a pending or active meeting to cancelled.
func (s *MeetingService) Cancel(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.transition(ctx, id, meeting.StatusCancelled)
}

func (s *MeetingService) transition(ctx context.Context, id string, to meeting.Status) (*meeting.Meeting, error) {
	m, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(to, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMeeting(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("meeting transitioned", "meeting_id", id, "status", to)
	return m, nil
}

// SetRound persists the coordinator's current round counter.
func (s *MeetingService) SetRound(ctx context.Context, id string, round int) error {
	m, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	m.CurrentRound = round
	return s.store.UpdateMeeting(ctx, m)
}

// AddParticipant appends an agent to a non-terminal meeting at the end of
// the speaking order.
func (s *MeetingService) AddParticipant(ctx context.Context, meetingID, agentID, role string) (*meeting.Participant, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent_id is required: %w", domain.ErrValidation)
	}
	if role == "" {
		role = meeting.RoleParticipant
	}
	if role != meeting.RoleModerator && role != meeting.RoleParticipant {
		return nil, fmt.Errorf("role %q is not moderator or participant: %w", role, domain.ErrValidation)
	}

	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("meeting %s is %s: %w", meetingID, m.Status, domain.ErrInvalidState)
	}

	p := &meeting.Participant{
		MeetingID: meetingID,
		AgentID:   agentID,
		Role:      role,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("participant added", "meeting_id", meetingID, "agent_id", agentID,
		"speaking_order", p.SpeakingOrder)
	return p, nil
}

// RecordMessage appends a transcript entry. Only roster members may speak,
// and only while the meeting is active. The store assigns the gap-free
// sequence number.
func (s *MeetingService) RecordMessage(ctx context.Context, meetingID, agentID, content string, msgType meeting.MessageType) (*meeting.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	switch msgType {
	case meeting.MessageStatement, meeting.MessageQuestion, meeting.MessageProposal,
		meeting.MessageOpinion, meeting.MessageConsensus, meeting.MessageVote:
	default:
		return nil, fmt.Errorf("message type %q is not recognized: %w", msgType, domain.ErrValidation)
	}

	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status != meeting.StatusActive {
		return nil, fmt.Errorf("meeting %s is %s, not active: %w", meetingID, m.Status, domain.ErrInvalidState)
	}

	participants, err := s.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	onRoster := false
	for i := range participants {
		if participants[i].AgentID == agentID {
			onRoster = true
			break
		}
	}
	if !onRoster {
		return nil, fmt.Errorf("agent %s is not a participant of meeting %s: %w",
			agentID, meetingID, domain.ErrForbidden)
	}

	msg := &meeting.Message{
		MeetingID: meetingID,
		AgentID:   agentID,
		Content:   content,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	return s.store.AppendMeetingMessage(ctx, msg)
}

// Transcript returns messages after the given sequence number, in order.
// afterSeq 0 returns the full transcript.
func (s *MeetingService) Transcript(ctx context.Context, meetingID string, afterSeq int64) ([]meeting.Message, error) {
	if _, err := s.store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return s.store.ListMeetingMessages(ctx, meetingID, afterSeq)
}

// RecordDecision persists a meeting outcome.
func (s *MeetingService) RecordDecision(ctx context.Context, d *meeting.Decision) (*meeting.Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMeeting(ctx, d.MeetingID); err != nil {
		return nil, err
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("decision recorded", "meeting_id", d.MeetingID, "decision_id", d.ID,
		"status", d.Status)
	return d, nil
}

// Decisions lists a meeting's decisions.
func (s *MeetingService) Decisions(ctx context.Context, meetingID string) ([]meeting.Decision, error) {
	return s.store.ListDecisions(ctx, meetingID)
}
