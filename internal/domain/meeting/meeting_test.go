package meeting_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
)

func TestMeeting_Transition(t *testing.T) {
	now := time.Now().UTC()
	m := &meeting.Meeting{ID: "m-1", Status: meeting.StatusPending}

	if err := m.Transition(meeting.StatusActive, now); err != nil {
		t.Fatalf("pending -> active failed: %v", err)
	}
	if m.StartedAt == nil {
		t.Error("started_at not stamped on activation")
	}

	if err := m.Transition(meeting.StatusCompleted, now); err != nil {
		t.Fatalf("active -> completed failed: %v", err)
	}
	if m.EndedAt == nil {
		t.Error("ended_at not stamped on completion")
	}

	if err := m.Transition(meeting.StatusActive, now); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("completed is terminal, got %v", err)
	}
}

func TestMeeting_Transition_PendingToCompletedRejected(t *testing.T) {
	m := &meeting.Meeting{ID: "m-1", Status: meeting.StatusPending}
	err := m.Transition(meeting.StatusCompleted, time.Now().UTC())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("pending -> completed should be rejected, got %v", err)
	}
}

func TestStatus_Terminal(t *testing.T) {
	cases := []struct {
		status   meeting.Status
		terminal bool
	}{
		{meeting.StatusPending, false},
		{meeting.StatusActive, false},
		{meeting.StatusCompleted, true},
		{meeting.StatusFailed, true},
		{meeting.StatusCancelled, true},
	}
	for _, tc := range cases {
		if tc.status.Terminal() != tc.terminal {
			t.Errorf("Terminal() for %s = %t, want %t", tc.status, tc.status.Terminal(), tc.terminal)
		}
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	req := meeting.CreateRequest{
		Title:          "Design review",
		ParticipantIDs: []string{"a-1", "a-2"},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestCreateRequest_Validate_Errors(t *testing.T) {
	cases := []struct {
		name string
		req  meeting.CreateRequest
	}{
		{"missing title", meeting.CreateRequest{ParticipantIDs: []string{"a-1", "a-2"}}},
		{"one participant", meeting.CreateRequest{Title: "t", ParticipantIDs: []string{"a-1"}}},
		{"duplicate participant", meeting.CreateRequest{Title: "t", ParticipantIDs: []string{"a-1", "a-1"}}},
		{"empty participant", meeting.CreateRequest{Title: "t", ParticipantIDs: []string{"a-1", ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecision_Validate(t *testing.T) {
	d := meeting.Decision{MeetingID: "m-1", Title: "Pick option", Status: meeting.DecisionApproved}
	if err := d.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("approved decision without selected option should fail, got %v", err)
	}

	d.SelectedOption = "A"
	if err := d.Validate(); err != nil {
		t.Errorf("valid decision rejected: %v", err)
	}

	rejected := meeting.Decision{MeetingID: "m-1", Title: "No agreement", Status: meeting.DecisionRejected}
	if err := rejected.Validate(); err != nil {
		t.Errorf("rejected decision needs no selected option, got %v", err)
	}
}
