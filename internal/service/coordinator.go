package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/AgentMesh/internal/adapter/otel"
	"github.com/Strob0t/AgentMesh/internal/adapter/ws"
	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
)

// Discussion phases.
type Phase string

const (
	PhaseSetup             Phase = "SETUP"
	PhaseOpinionCollection Phase = "OPINION_COLLECTION"
	PhaseConsensusBuilding Phase = "CONSENSUS_BUILDING"
	PhaseDecision          Phase = "DECISION"
	PhaseNoConsensus       Phase = "NO_CONSENSUS"
	PhaseCompleted         Phase = "COMPLETED"
)

// Reply sentinels. The first two are recorded when an agent misses its
// window; abstentions arrive as explicit votes.
const (
	NoResponseSentinel = "[NO RESPONSE]"
	NoVoteSentinel     = "[NO VOTE]"
	AbstainSentinel    = "[ABSTAIN]"
)

// DiscussionState is the coordinator's view of one running discussion.
type DiscussionState struct {
	MeetingID    string            `json:"meeting_id"`
	Phase        Phase             `json:"phase"`
	CurrentRound int               `json:"current_round"`
	MaxRounds    int               `json:"max_rounds"`
	Speaker      string            `json:"speaker,omitempty"`
	Opinions     map[string]string `json:"opinions,omitempty"` // agent -> opinion this round
	Votes        map[string]string `json:"votes,omitempty"`    // agent -> vote this round
	Rounds       []RoundState      `json:"rounds,omitempty"`   // completed rounds, oldest first
	Paused       bool              `json:"paused"`
	LastSequence int64             `json:"last_sequence"`
}

// RoundState is the record of one completed round.
type RoundState struct {
	Round            int               `json:"round"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	Opinions         map[string]string `json:"opinions"`
	Votes            map[string]string `json:"votes"`
	ConsensusReached bool              `json:"consensus_reached"`
	ConsensusOption  string            `json:"consensus_option,omitempty"`
}

// discussion is the live coordination context for one meeting.
type discussion struct {
	mu      sync.Mutex
	state   DiscussionState
	roster  []meeting.Participant
	cancel  context.CancelFunc
	resume  chan struct{}
	// pending reply channels keyed by agent ID; the inbound WS handler
	// delivers into these.
	awaitOpinion map[string]chan string
	awaitVote    map[string]chan string
}

// CoordinatorService drives structured discussions: sequential opinion
// rounds, concurrent consensus votes, and durable decisions.
type CoordinatorService struct {
	meetings *MeetingService
	bus      eventbus.Bus
	cfg      config.Coordinator
	metrics  *otel.Metrics
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*discussion
}

// NewCoordinatorService creates a new CoordinatorService.
func NewCoordinatorService(meetings *MeetingService, bus eventbus.Bus, cfg config.Coordinator, metrics *otel.Metrics, log *slog.Logger) *CoordinatorService {
	return &CoordinatorService{
		meetings: meetings,
		bus:      bus,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
		active:   make(map[string]*discussion),
	}
}

// StartDiscussion activates a pending meeting and launches the discussion
// loop in the background.
func (s *CoordinatorService) StartDiscussion(ctx context.Context, meetingID string) (*DiscussionState, error) {
	m, err := s.meetings.Start(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return s.launch(m)
}

// Recover re-enters discussions for meetings left active by a previous
// process. Pending and terminal meetings are untouched.
func (s *CoordinatorService) Recover(ctx context.Context) error {
	stuck, err := s.meetings.List(ctx, meeting.StatusActive)
	if err != nil {
		return err
	}
	for i := range stuck {
		m := &stuck[i]
		if _, err := s.launch(m); err != nil {
			s.log.Error("recover discussion", "meeting_id", m.ID, "error", err)
			continue
		}
		s.log.Info("discussion recovered", "meeting_id", m.ID, "round", m.CurrentRound)
	}
	return nil
}

func (s *CoordinatorService) launch(m *meeting.Meeting) (*DiscussionState, error) {
	roster, err := s.meetings.Participants(context.Background(), m.ID)
	if err != nil {
		return nil, err
	}

	maxRounds := m.MaxDiscussionRounds
	if maxRounds <= 0 {
		maxRounds = s.cfg.MaxRounds
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.MaxDurationSeconds > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(),
			time.Duration(m.MaxDurationSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	d := &discussion{
		state: DiscussionState{
			MeetingID:    m.ID,
			Phase:        PhaseSetup,
			CurrentRound: m.CurrentRound,
			MaxRounds:    maxRounds,
		},
		roster:       roster,
		cancel:       cancel,
		resume:       make(chan struct{}),
		awaitOpinion: make(map[string]chan string),
		awaitVote:    make(map[string]chan string),
	}

	s.mu.Lock()
	if _, running := s.active[m.ID]; running {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("discussion for meeting %s already running: %w", m.ID, domain.ErrConflict)
	}
	s.active[m.ID] = d
	s.mu.Unlock()

	go s.run(runCtx, d)

	state := d.snapshot()
	return &state, nil
}

// State returns the live discussion state for a meeting.
func (s *CoordinatorService) State(meetingID string) (*DiscussionState, error) {
	s.mu.Lock()
	d, ok := s.active[meetingID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no running discussion for meeting %s: %w", meetingID, domain.ErrNotFound)
	}
	state := d.snapshot()
	return &state, nil
}

// Pause suspends the discussion loop between steps.
func (s *CoordinatorService) Pause(ctx context.Context, meetingID string) error {
	s.mu.Lock()
	d, ok := s.active[meetingID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running discussion for meeting %s: %w", meetingID, domain.ErrNotFound)
	}

	d.mu.Lock()
	if d.state.Paused {
		d.mu.Unlock()
		return fmt.Errorf("discussion %s already paused: %w", meetingID, domain.ErrInvalidState)
	}
	d.state.Paused = true
	d.mu.Unlock()

	s.publish(ctx, d, eventbus.Event{Type: eventbus.EventDiscussionPaused, MeetingID: meetingID})
	return nil
}

// Resume releases a paused discussion.
func (s *CoordinatorService) Resume(ctx context.Context, meetingID string) error {
	s.mu.Lock()
	d, ok := s.active[meetingID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running discussion for meeting %s: %w", meetingID, domain.ErrNotFound)
	}

	d.mu.Lock()
	if !d.state.Paused {
		d.mu.Unlock()
		return fmt.Errorf("discussion %s is not paused: %w", meetingID, domain.ErrInvalidState)
	}
	d.state.Paused = false
	d.mu.Unlock()

	select {
	case d.resume <- struct{}{}:
	default:
	}
	s.publish(ctx, d, eventbus.Event{Type: eventbus.EventDiscussionResumed, MeetingID: meetingID})
	return nil
}

// Cancel stops a running discussion and cancels the meeting.
func (s *CoordinatorService) Cancel(ctx context.Context, meetingID string) error {
	s.mu.Lock()
	d, ok := s.active[meetingID]
	if ok {
		delete(s.active, meetingID)
	}
	s.mu.Unlock()
	if ok {
		d.cancel()
	}

	_, err := s.meetings.Cancel(ctx, meetingID)
	return err
}

// HandleInbound is the hub's inbound callback: it routes opinion and vote
// replies to whichever collection step is waiting for them.
func (s *CoordinatorService) HandleInbound(_ context.Context, msg ws.ClientMessage) {
	s.mu.Lock()
	d, ok := s.active[msg.MeetingID]
	s.mu.Unlock()
	if !ok {
		return
	}

	d.mu.Lock()
	var waiting chan string
	switch msg.Type {
	case "opinion":
		waiting = d.awaitOpinion[msg.AgentID]
	case "vote":
		waiting = d.awaitVote[msg.AgentID]
	}
	d.mu.Unlock()

	if waiting == nil {
		s.log.Debug("unsolicited reply discarded",
			"meeting_id", msg.MeetingID, "agent_id", msg.AgentID, "type", msg.Type)
		return
	}
	select {
	case waiting <- msg.Content:
	default:
	}
}

// HandleReconnect is the hub's reconnect callback: it replays the
// transcript after lastSequence and sends the current state to the agent.
func (s *CoordinatorService) HandleReconnect(ctx context.Context, meetingID, agentID string, lastSequence int64) {
	missed, err := s.meetings.Transcript(ctx, meetingID, lastSequence)
	if err != nil {
		s.log.Warn("state sync transcript fetch failed",
			"meeting_id", meetingID, "agent_id", agentID, "error", err)
		missed = nil
	}

	var state *DiscussionState
	if st, err := s.State(meetingID); err == nil {
		state = st
	}

	payload, err := json.Marshal(struct {
		State    *DiscussionState  `json:"state,omitempty"`
		Messages []meeting.Message `json:"messages,omitempty"`
	}{State: state, Messages: missed})
	if err != nil {
		s.log.Error("marshal state sync", "meeting_id", meetingID, "error", err)
		return
	}

	evt := eventbus.Event{
		Type:      eventbus.EventStateSync,
		MeetingID: meetingID,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Data:      payload,
	}
	if state != nil {
		evt.SequenceNumber = state.LastSequence
	}
	s.bus.PublishTo(ctx, meetingID, agentID, evt)
}

// run drives a discussion to completion.
func (s *CoordinatorService) run(ctx context.Context, d *discussion) {
	meetingID := d.state.MeetingID
	defer func() {
		s.mu.Lock()
		delete(s.active, meetingID)
		s.mu.Unlock()
	}()

	startRound := d.state.CurrentRound
	if startRound < 1 {
		startRound = 1
	}

	for round := startRound; round <= d.state.MaxRounds; round++ {
		if err := s.waitIfPaused(ctx, d); err != nil {
			s.fail(ctx, d, err)
			return
		}

		roundStart := time.Now()
		d.mu.Lock()
		d.state.CurrentRound = round
		d.state.Phase = PhaseOpinionCollection
		d.state.Opinions = make(map[string]string)
		d.state.Votes = make(map[string]string)
		d.mu.Unlock()

		if err := s.meetings.SetRound(ctx, meetingID, round); err != nil {
			s.fail(ctx, d, err)
			return
		}
		s.publish(ctx, d, eventbus.Event{
			Type:      eventbus.EventRoundStarted,
			MeetingID: meetingID,
			Data:      mustJSON(map[string]int{"round": round, "max_rounds": d.state.MaxRounds}),
		})

		if err := s.collectOpinions(ctx, d); err != nil {
			s.fail(ctx, d, err)
			return
		}

		d.mu.Lock()
		d.state.Phase = PhaseConsensusBuilding
		d.mu.Unlock()

		outcome, err := s.buildConsensus(ctx, d)
		if err != nil {
			s.fail(ctx, d, err)
			return
		}

		d.mu.Lock()
		d.state.Rounds = append(d.state.Rounds, RoundState{
			Round:            round,
			StartedAt:        roundStart.UTC(),
			CompletedAt:      time.Now().UTC(),
			Opinions:         copyMap(d.state.Opinions),
			Votes:            copyMap(d.state.Votes),
			ConsensusReached: outcome.Reached,
			ConsensusOption:  outcome.Option,
		})
		d.mu.Unlock()

		s.publish(ctx, d, eventbus.Event{
			Type:      eventbus.EventRoundCompleted,
			MeetingID: meetingID,
			Data:      mustJSON(map[string]any{"round": round, "consensus": outcome.Reached}),
		})
		if s.metrics != nil {
			s.metrics.RoundDuration.Record(ctx, time.Since(roundStart).Seconds())
		}

		if outcome.Reached {
			s.decide(ctx, d, outcome)
			return
		}
	}

	// All rounds exhausted without consensus.
	s.noConsensus(ctx, d)
}

// collectOpinions polls each participant in speaking order, waiting up to
// the reply timeout for each. Silence is recorded as [NO RESPONSE].
func (s *CoordinatorService) collectOpinions(ctx context.Context, d *discussion) error {
	meetingID := d.state.MeetingID

	for _, p := range d.roster {
		if err := s.waitIfPaused(ctx, d); err != nil {
			return err
		}

		reply := make(chan string, 1)
		d.mu.Lock()
		d.state.Speaker = p.AgentID
		d.awaitOpinion[p.AgentID] = reply
		d.mu.Unlock()

		s.publish(ctx, d, eventbus.Event{
			Type:      eventbus.EventOpinionRequest,
			MeetingID: meetingID,
			AgentID:   p.AgentID,
			Data:      mustJSON(map[string]any{"round": d.state.CurrentRound, "speaking_order": p.SpeakingOrder}),
		})

		opinion := NoResponseSentinel
		select {
		case <-ctx.Done():
			d.clearAwait(p.AgentID)
			return ctx.Err()
		case text := <-reply:
			if text != "" {
				opinion = text
			}
		case <-time.After(s.cfg.ReplyTimeout):
			s.log.Warn("opinion timeout", "meeting_id", meetingID, "agent_id", p.AgentID)
		}
		d.clearAwait(p.AgentID)

		msg, err := s.meetings.RecordMessage(ctx, meetingID, p.AgentID, opinion, meeting.MessageOpinion)
		if err != nil {
			return fmt.Errorf("record opinion: %w", err)
		}

		d.mu.Lock()
		d.state.Opinions[p.AgentID] = opinion
		d.state.Speaker = ""
		d.state.LastSequence = msg.SequenceNumber
		d.mu.Unlock()

		s.publish(ctx, d, eventbus.Event{
			Type:           eventbus.EventOpinionPresented,
			MeetingID:      meetingID,
			AgentID:        p.AgentID,
			SequenceNumber: msg.SequenceNumber,
			Data:           mustJSON(map[string]string{"content": opinion}),
		})
	}
	return nil
}

// waitIfPaused blocks while the discussion is paused.
func (s *CoordinatorService) waitIfPaused(ctx context.Context, d *discussion) error {
	for {
		d.mu.Lock()
		paused := d.state.Paused
		d.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.resume:
		}
	}
}

// fail marks the meeting failed after an unrecoverable coordination error.
func (s *CoordinatorService) fail(ctx context.Context, d *discussion, cause error) {
	meetingID := d.state.MeetingID
	s.log.Error("discussion failed", "meeting_id", meetingID, "error", cause)

	// The run context may already be dead; use a detached one to persist.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.meetings.Fail(ctx, meetingID); err != nil {
		s.log.Error("mark meeting failed", "meeting_id", meetingID, "error", err)
	}
	s.publish(ctx, d, eventbus.Event{
		Type:      eventbus.EventMeetingCompleted,
		MeetingID: meetingID,
		Data:      mustJSON(map[string]string{"status": string(meeting.StatusFailed)}),
	})
}

func (s *CoordinatorService) publish(ctx context.Context, d *discussion, evt eventbus.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.bus.Publish(ctx, evt)
}

func (d *discussion) snapshot() DiscussionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.state
	state.Opinions = copyMap(d.state.Opinions)
	state.Votes = copyMap(d.state.Votes)
	state.Rounds = append([]RoundState(nil), d.state.Rounds...)
	return state
}

func (d *discussion) clearAwait(agentID string) {
	d.mu.Lock()
	delete(d.awaitOpinion, agentID)
	delete(d.awaitVote, agentID)
	d.mu.Unlock()
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
