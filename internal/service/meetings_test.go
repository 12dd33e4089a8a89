package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/service"
)

func newMeetings(t *testing.T) (*service.MeetingService, *mockStore) {
	t.Helper()
	store := newMockStore()
	return service.NewMeetingService(store, nil, testLogger()), store
}

func createMeeting(t *testing.T, svc *service.MeetingService, participants ...string) *meeting.Meeting {
	t.Helper()
	m, err := svc.Create(context.Background(), &meeting.CreateRequest{
		Title:          "Design review",
		ParticipantIDs: participants,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return m
}

func TestMeetings_Create_SpeakingOrder(t *testing.T) {
	svc, _ := newMeetings(t)
	m := createMeeting(t, svc, "a-1", "a-2", "a-3")

	if m.Status != meeting.StatusPending {
		t.Errorf("new meeting should be pending, got %s", m.Status)
	}

	roster, err := svc.Participants(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(roster))
	}
	for i, p := range roster {
		if p.SpeakingOrder != i+1 {
			t.Errorf("participant %s: speaking order %d, want %d", p.AgentID, p.SpeakingOrder, i+1)
		}
	}
	if roster[0].Role != meeting.RoleModerator {
		t.Errorf("first participant should moderate, got %s", roster[0].Role)
	}
	if roster[1].Role != meeting.RoleParticipant {
		t.Errorf("later participants should not moderate, got %s", roster[1].Role)
	}
}

func TestMeetings_AddParticipant_AppendsOrder(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")

	p, err := svc.AddParticipant(ctx, m.ID, "a-3", "")
	if err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if p.SpeakingOrder != 3 {
		t.Errorf("expected speaking order 3, got %d", p.SpeakingOrder)
	}
	if p.Role != meeting.RoleParticipant {
		t.Errorf("default role should be participant, got %s", p.Role)
	}

	if _, err := svc.AddParticipant(ctx, m.ID, "a-3", ""); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected duplicate for re-added agent, got %v", err)
	}
	if _, err := svc.AddParticipant(ctx, m.ID, "a-4", "observer"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for unknown role, got %v", err)
	}
}

func TestMeetings_AddParticipant_TerminalMeeting(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")

	if _, err := svc.Cancel(ctx, m.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := svc.AddParticipant(ctx, m.ID, "a-3", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected invalid state for cancelled meeting, got %v", err)
	}
}

func TestMeetings_RecordMessage(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")

	// Pending meetings do not accept messages.
	_, err := svc.RecordMessage(ctx, m.ID, "a-1", "hello", meeting.MessageStatement)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state while pending, got %v", err)
	}

	if _, err := svc.Start(ctx, m.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Sequence numbers are dense and assigned in order.
	for i := 1; i <= 3; i++ {
		msg, err := svc.RecordMessage(ctx, m.ID, "a-1", fmt.Sprintf("point %d", i), meeting.MessageStatement)
		if err != nil {
			t.Fatalf("RecordMessage %d failed: %v", i, err)
		}
		if msg.SequenceNumber != int64(i) {
			t.Errorf("message %d: sequence %d, want %d", i, msg.SequenceNumber, i)
		}
	}

	// Non-roster agents cannot speak.
	if _, err := svc.RecordMessage(ctx, m.ID, "outsider", "hi", meeting.MessageStatement); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected forbidden for outsider, got %v", err)
	}
	// Unknown message types are rejected.
	if _, err := svc.RecordMessage(ctx, m.ID, "a-1", "hi", "gossip"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for unknown type, got %v", err)
	}
	// Empty content is rejected.
	if _, err := svc.RecordMessage(ctx, m.ID, "a-1", "", meeting.MessageStatement); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for empty content, got %v", err)
	}
}

func TestMeetings_Transcript_AfterSeq(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")
	if _, err := svc.Start(ctx, m.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if _, err := svc.RecordMessage(ctx, m.ID, "a-1", fmt.Sprintf("point %d", i), meeting.MessageStatement); err != nil {
			t.Fatalf("RecordMessage failed: %v", err)
		}
	}

	tail, err := svc.Transcript(ctx, m.ID, 2)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 messages after seq 2, got %d", len(tail))
	}
	if tail[0].SequenceNumber != 3 || tail[1].SequenceNumber != 4 {
		t.Errorf("unexpected tail sequences: %d, %d", tail[0].SequenceNumber, tail[1].SequenceNumber)
	}

	full, err := svc.Transcript(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(full) != 4 {
		t.Errorf("expected full transcript of 4, got %d", len(full))
	}

	if _, err := svc.Transcript(ctx, "ghost", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for unknown meeting, got %v", err)
	}
}

func TestMeetings_Lifecycle(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")

	started, err := svc.Start(ctx, m.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.StartedAt == nil {
		t.Error("started_at not stamped")
	}

	done, err := svc.Complete(ctx, m.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.EndedAt == nil {
		t.Error("ended_at not stamped")
	}

	if _, err := svc.Start(ctx, m.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("completed meeting must not restart, got %v", err)
	}
}

func TestMeetings_RecordDecision(t *testing.T) {
	svc, _ := newMeetings(t)
	ctx := context.Background()
	m := createMeeting(t, svc, "a-1", "a-2")

	d, err := svc.RecordDecision(ctx, &meeting.Decision{
		MeetingID:      m.ID,
		Title:          "Choose storage",
		Status:         meeting.DecisionApproved,
		SelectedOption: "postgres",
	})
	if err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if d.ID == "" || d.DecidedAt.IsZero() {
		t.Error("decision identity not stamped")
	}

	list, err := svc.Decisions(ctx, m.ID)
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 decision, got %d", len(list))
	}

	_, err = svc.RecordDecision(ctx, &meeting.Decision{
		MeetingID: m.ID,
		Title:     "Approved without an option",
		Status:    meeting.DecisionApproved,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	_, err = svc.RecordDecision(ctx, &meeting.Decision{
		MeetingID:      "ghost",
		Title:          "Orphan",
		Status:         meeting.DecisionApproved,
		SelectedOption: "x",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for unknown meeting, got %v", err)
	}
}
