package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
)

// ConsensusOutcome is the tally of one consensus-building phase.
type ConsensusOutcome struct {
	Reached   bool              `json:"reached"`
	Option    string            `json:"option,omitempty"`
	Agreement float64           `json:"agreement"` // fraction of valid votes behind the winner
	Votes     map[string]string `json:"votes"`
}

// buildConsensus gathers votes from all participants concurrently, then
// checks whether the most common valid vote clears the threshold.
func (s *CoordinatorService) buildConsensus(ctx context.Context, d *discussion) (*ConsensusOutcome, error) {
	meetingID := d.state.MeetingID

	type ballot struct {
		agentID string
		vote    string
	}
	results := make([]ballot, len(d.roster))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range d.roster {
		reply := make(chan string, 1)
		d.mu.Lock()
		d.awaitVote[p.AgentID] = reply
		d.mu.Unlock()

		s.publish(ctx, d, eventbus.Event{
			Type:      eventbus.EventConsensusVoteRequest,
			MeetingID: meetingID,
			AgentID:   p.AgentID,
			Data:      mustJSON(map[string]int{"round": d.state.CurrentRound}),
		})

		g.Go(func() error {
			vote := NoVoteSentinel
			select {
			case <-gctx.Done():
				d.clearAwait(p.AgentID)
				return gctx.Err()
			case text := <-reply:
				if text != "" {
					vote = text
				}
			case <-time.After(s.cfg.ReplyTimeout):
				s.log.Warn("vote timeout", "meeting_id", meetingID, "agent_id", p.AgentID)
			}
			d.clearAwait(p.AgentID)
			results[i] = ballot{agentID: p.AgentID, vote: vote}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Record votes in roster order so transcripts are deterministic.
	votes := make(map[string]string, len(results))
	for _, b := range results {
		msg, err := s.meetings.RecordMessage(ctx, meetingID, b.agentID, b.vote, meeting.MessageVote)
		if err != nil {
			return nil, fmt.Errorf("record vote: %w", err)
		}
		votes[b.agentID] = b.vote

		d.mu.Lock()
		d.state.Votes[b.agentID] = b.vote
		d.state.LastSequence = msg.SequenceNumber
		d.mu.Unlock()
	}

	outcome := tally(votes, s.cfg.ConsensusThreshold)
	if outcome.Reached {
		s.publish(ctx, d, eventbus.Event{
			Type:      eventbus.EventConsensusReached,
			MeetingID: meetingID,
			Data:      mustJSON(outcome),
		})
	}
	return outcome, nil
}

// tally finds the mode of the valid votes and checks it against the
// threshold. Sentinel votes count toward neither option nor total.
func tally(votes map[string]string, threshold float64) *ConsensusOutcome {
	outcome := &ConsensusOutcome{Votes: votes}

	counts := make(map[string]int)
	valid := 0
	for _, v := range votes {
		if v == NoVoteSentinel || v == AbstainSentinel {
			continue
		}
		counts[v]++
		valid++
	}
	if valid == 0 {
		return outcome
	}

	options := make([]string, 0, len(counts))
	for option := range counts {
		options = append(options, option)
	}
	// Ties break lexicographically so repeated tallies agree.
	sort.Strings(options)

	best, bestCount := "", 0
	for _, option := range options {
		if counts[option] > bestCount {
			best, bestCount = option, counts[option]
		}
	}

	outcome.Option = best
	outcome.Agreement = float64(bestCount) / float64(valid)
	outcome.Reached = outcome.Agreement >= threshold
	return outcome
}

// decide records an approved decision and completes the meeting.
func (s *CoordinatorService) decide(ctx context.Context, d *discussion, outcome *ConsensusOutcome) {
	meetingID := d.state.MeetingID

	d.mu.Lock()
	d.state.Phase = PhaseDecision
	round := d.state.CurrentRound
	d.mu.Unlock()

	decision := &meeting.Decision{
		MeetingID:            meetingID,
		Title:                fmt.Sprintf("Consensus after round %d", round),
		SelectedOption:       outcome.Option,
		Rationale:            fmt.Sprintf("%.0f%% agreement on %q", outcome.Agreement*100, outcome.Option),
		ParticipantAgreement: outcome.Votes,
		Status:               meeting.DecisionApproved,
	}
	recorded, err := s.meetings.RecordDecision(ctx, decision)
	if err != nil {
		s.fail(ctx, d, fmt.Errorf("record decision: %w", err))
		return
	}
	s.publish(ctx, d, eventbus.Event{
		Type:      eventbus.EventDecisionRecorded,
		MeetingID: meetingID,
		Data:      mustJSON(recorded),
	})

	s.complete(ctx, d, meeting.StatusCompleted)
}

// noConsensus ends the meeting after all rounds failed to agree. No decision
// is recorded; the absence of one is what marks the outcome.
func (s *CoordinatorService) noConsensus(ctx context.Context, d *discussion) {
	meetingID := d.state.MeetingID

	d.mu.Lock()
	d.state.Phase = PhaseNoConsensus
	rounds := d.state.CurrentRound
	d.mu.Unlock()

	s.log.Info("no consensus reached", "meeting_id", meetingID, "rounds", rounds)
	s.complete(ctx, d, meeting.StatusCompleted)
}

// complete finalizes the meeting and announces completion.
func (s *CoordinatorService) complete(ctx context.Context, d *discussion, status meeting.Status) {
	meetingID := d.state.MeetingID

	d.mu.Lock()
	d.state.Phase = PhaseCompleted
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if _, err := s.meetings.Complete(ctx, meetingID); err != nil {
		s.log.Error("complete meeting", "meeting_id", meetingID, "error", err)
	}
	s.publish(ctx, d, eventbus.Event{
		Type:      eventbus.EventMeetingCompleted,
		MeetingID: meetingID,
		Data:      mustJSON(map[string]string{"status": string(status)}),
	})
	s.log.Info("discussion completed", "meeting_id", meetingID)
}
