package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/adapter/ws"
	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// scriptedBus answers opinion and vote requests with canned replies, so a
// discussion runs to completion without real websocket clients. Agents with
// no scripted reply stay silent and time out.
type scriptedBus struct {
	coord    *service.CoordinatorService
	opinions map[string]string
	votes    map[string]string

	mu     sync.Mutex
	events []eventbus.Event
	done   chan struct{}
	once   sync.Once
}

func newScriptedBus() *scriptedBus {
	return &scriptedBus{
		opinions: make(map[string]string),
		votes:    make(map[string]string),
		done:     make(chan struct{}),
	}
}

func (b *scriptedBus) Publish(ctx context.Context, evt eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()

	switch evt.Type {
	case eventbus.EventOpinionRequest:
		if text, ok := b.opinions[evt.AgentID]; ok {
			b.coord.HandleInbound(ctx, ws.ClientMessage{
				Type: "opinion", MeetingID: evt.MeetingID, AgentID: evt.AgentID, Content: text,
			})
		}
	case eventbus.EventConsensusVoteRequest:
		if text, ok := b.votes[evt.AgentID]; ok {
			b.coord.HandleInbound(ctx, ws.ClientMessage{
				Type: "vote", MeetingID: evt.MeetingID, AgentID: evt.AgentID, Content: text,
			})
		}
	case eventbus.EventMeetingCompleted:
		b.once.Do(func() { close(b.done) })
	}
}

func (b *scriptedBus) PublishTo(ctx context.Context, meetingID, agentID string, evt eventbus.Event) {
	b.Publish(ctx, evt)
}

func (b *scriptedBus) SubscriberCount(string) int { return 0 }

func (b *scriptedBus) countEvents(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, evt := range b.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func (b *scriptedBus) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("discussion did not complete")
	}
}

func newCoordinator(t *testing.T, bus *scriptedBus, cfg config.Coordinator) (*service.CoordinatorService, *service.MeetingService) {
	t.Helper()
	store := newMockStore()
	meetings := service.NewMeetingService(store, nil, testLogger())
	coord := service.NewCoordinatorService(meetings, bus, cfg, nil, testLogger())
	bus.coord = coord
	return coord, meetings
}

func quickConfig(maxRounds int) config.Coordinator {
	return config.Coordinator{
		MaxRounds:          maxRounds,
		ReplyTimeout:       50 * time.Millisecond,
		ConsensusThreshold: 0.75,
	}
}

func TestCoordinator_ReachesConsensus(t *testing.T) {
	bus := newScriptedBus()
	coord, meetings := newCoordinator(t, bus, quickConfig(3))
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		bus.opinions[id] = "I think postgres fits"
		bus.votes[id] = "postgres"
	}

	m, err := meetings.Create(ctx, &meeting.CreateRequest{
		Title: "Storage choice", ParticipantIDs: []string{"a-1", "a-2", "a-3"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	state, err := coord.StartDiscussion(ctx, m.ID)
	if err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}
	if state.MeetingID != m.ID || state.MaxRounds != 3 {
		t.Errorf("unexpected initial state: %+v", state)
	}

	bus.waitDone(t)

	got, err := meetings.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != meeting.StatusCompleted {
		t.Errorf("meeting status = %s, want completed", got.Status)
	}

	decisions, err := meetings.Decisions(ctx, m.ID)
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Status != meeting.DecisionApproved || d.SelectedOption != "postgres" {
		t.Errorf("unexpected decision: %+v", d)
	}

	// Unanimity finishes in the first round.
	if n := bus.countEvents(eventbus.EventRoundStarted); n != 1 {
		t.Errorf("round_started events = %d, want 1", n)
	}
	if n := bus.countEvents(eventbus.EventConsensusReached); n != 1 {
		t.Errorf("consensus_reached events = %d, want 1", n)
	}

	// Transcript carries each agent's opinion and vote.
	transcript, err := meetings.Transcript(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(transcript) != 6 {
		t.Errorf("transcript length = %d, want 6", len(transcript))
	}
}

func TestCoordinator_NoConsensus(t *testing.T) {
	bus := newScriptedBus()
	coord, meetings := newCoordinator(t, bus, quickConfig(2))
	ctx := context.Background()

	bus.opinions["a-1"] = "postgres"
	bus.opinions["a-2"] = "sqlite"
	bus.votes["a-1"] = "postgres"
	bus.votes["a-2"] = "sqlite"

	m, err := meetings.Create(ctx, &meeting.CreateRequest{
		Title: "Split vote", ParticipantIDs: []string{"a-1", "a-2"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := coord.StartDiscussion(ctx, m.ID); err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}
	bus.waitDone(t)

	if n := bus.countEvents(eventbus.EventRoundStarted); n != 2 {
		t.Errorf("round_started events = %d, want every round exhausted", n)
	}

	// Exhausting the rounds leaves no decision behind.
	decisions, err := meetings.Decisions(ctx, m.ID)
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("expected no decision without consensus, got %+v", decisions)
	}
	if n := bus.countEvents(eventbus.EventDecisionRecorded); n != 0 {
		t.Errorf("decision_recorded events = %d, want 0", n)
	}

	got, _ := meetings.Get(ctx, m.ID)
	if got.Status != meeting.StatusCompleted {
		t.Errorf("meeting status = %s, want completed", got.Status)
	}
}

func TestCoordinator_SilentAgentsRecordSentinels(t *testing.T) {
	bus := newScriptedBus()
	coord, meetings := newCoordinator(t, bus, quickConfig(1))
	ctx := context.Background()

	// a-1 participates, a-2 never answers.
	bus.opinions["a-1"] = "ship it"
	bus.votes["a-1"] = "ship"

	m, err := meetings.Create(ctx, &meeting.CreateRequest{
		Title: "One quiet seat", ParticipantIDs: []string{"a-1", "a-2"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := coord.StartDiscussion(ctx, m.ID); err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}
	bus.waitDone(t)

	transcript, err := meetings.Transcript(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	var noResponse, noVote bool
	for _, msg := range transcript {
		if msg.AgentID == "a-2" && msg.Content == service.NoResponseSentinel {
			noResponse = true
		}
		if msg.AgentID == "a-2" && msg.Content == service.NoVoteSentinel {
			noVote = true
		}
	}
	if !noResponse || !noVote {
		t.Errorf("missing sentinel records for the silent agent: response=%t vote=%t", noResponse, noVote)
	}

	// The lone valid vote is unanimous among valid votes.
	decisions, _ := meetings.Decisions(ctx, m.ID)
	if len(decisions) != 1 || decisions[0].Status != meeting.DecisionApproved || decisions[0].SelectedOption != "ship" {
		t.Errorf("unexpected decision: %+v", decisions)
	}
}

func TestCoordinator_PauseResumeCancel(t *testing.T) {
	bus := newScriptedBus()
	// Nobody answers and the timeout is long, so the discussion stays alive
	// while we poke its controls.
	coord, meetings := newCoordinator(t, bus, config.Coordinator{
		MaxRounds:          1,
		ReplyTimeout:       30 * time.Second,
		ConsensusThreshold: 0.75,
	})
	ctx := context.Background()

	m, err := meetings.Create(ctx, &meeting.CreateRequest{
		Title: "Control surface", ParticipantIDs: []string{"a-1", "a-2"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := coord.StartDiscussion(ctx, m.ID); err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}

	if _, err := coord.State(m.ID); err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if _, err := coord.StartDiscussion(ctx, m.ID); err == nil {
		t.Error("second start on an active meeting must fail")
	}

	if err := coord.Pause(ctx, m.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := coord.Pause(ctx, m.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double pause: got %v", err)
	}
	state, _ := coord.State(m.ID)
	if !state.Paused {
		t.Error("state not marked paused")
	}

	if err := coord.Resume(ctx, m.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := coord.Resume(ctx, m.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("resume while running: got %v", err)
	}

	if err := coord.Cancel(ctx, m.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := coord.State(m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("state after cancel: got %v", err)
	}
	got, _ := meetings.Get(ctx, m.ID)
	if got.Status != meeting.StatusCancelled {
		t.Errorf("meeting status = %s, want cancelled", got.Status)
	}
}

func TestCoordinator_StartUnknownMeeting(t *testing.T) {
	bus := newScriptedBus()
	coord, _ := newCoordinator(t, bus, quickConfig(1))

	if _, err := coord.StartDiscussion(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCoordinator_RecoverResumesActiveMeetings(t *testing.T) {
	bus := newScriptedBus()
	coord, meetings := newCoordinator(t, bus, quickConfig(1))
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2"} {
		bus.opinions[id] = "resume me"
		bus.votes[id] = "yes"
	}

	// An active meeting with no live discussion models a prior process that
	// died mid-flight.
	m, err := meetings.Create(ctx, &meeting.CreateRequest{
		Title: "Orphaned", ParticipantIDs: []string{"a-1", "a-2"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := meetings.Start(ctx, m.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := coord.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	bus.waitDone(t)

	got, _ := meetings.Get(ctx, m.ID)
	if got.Status != meeting.StatusCompleted {
		t.Errorf("recovered meeting status = %s, want completed", got.Status)
	}
}
