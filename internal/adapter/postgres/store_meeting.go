package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
)

const meetingCols = `id, title, description, agenda, status, max_discussion_rounds,
	current_round, max_duration_seconds, created_at, started_at, ended_at`

// CreateMeeting inserts the meeting with its initial participants in one
// transaction so the dense speaking order is established atomically.
func (s *Store) CreateMeeting(ctx context.Context, m *meeting.Meeting, participants []meeting.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO meetings (id, title, description, agenda, status, max_discussion_rounds,
		     current_round, max_duration_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Title, m.Description, m.Agenda, m.Status, m.MaxDiscussionRounds,
		m.CurrentRound, m.MaxDurationSeconds, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create meeting %s: %w", m.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("create meeting %s: %w", m.ID, err)
	}

	for i := range participants {
		p := &participants[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO meeting_participants (meeting_id, agent_id, role, speaking_order, joined_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.MeetingID, p.AgentID, p.Role, p.SpeakingOrder, p.JoinedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("add participant %s: %w", p.AgentID, domain.ErrDuplicate)
			}
			return fmt.Errorf("add participant %s: %w", p.AgentID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+meetingCols+` FROM meetings WHERE id = $1`, id)

	var m meeting.Meeting
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Agenda, &m.Status,
		&m.MaxDiscussionRounds, &m.CurrentRound, &m.MaxDurationSeconds,
		&m.CreatedAt, &m.StartedAt, &m.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get meeting %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get meeting %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, m *meeting.Meeting) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meetings SET status = $2, current_round = $3, started_at = $4, ended_at = $5
		 WHERE id = $1`,
		m.ID, m.Status, m.CurrentRound, m.StartedAt, m.EndedAt)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update meeting %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// ListMeetings returns meetings, optionally filtered by status. An empty
// status lists everything.
func (s *Store) ListMeetings(ctx context.Context, status meeting.Status) ([]meeting.Meeting, error) {
	query := `SELECT ` + meetingCols + ` FROM meetings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []meeting.Meeting
	for rows.Next() {
		var m meeting.Meeting
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Agenda, &m.Status,
			&m.MaxDiscussionRounds, &m.CurrentRound, &m.MaxDurationSeconds,
			&m.CreatedAt, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, meetingID string) ([]meeting.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT meeting_id, agent_id, role, speaking_order, joined_at
		 FROM meeting_participants WHERE meeting_id = $1 ORDER BY speaking_order`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []meeting.Participant
	for rows.Next() {
		var p meeting.Participant
		if err := rows.Scan(&p.MeetingID, &p.AgentID, &p.Role, &p.SpeakingOrder, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// AddParticipant appends an agent at speaking order max+1. The meeting row
// is locked so concurrent joins cannot race on the order.
func (s *Store) AddParticipant(ctx context.Context, p *meeting.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1 FOR UPDATE)`,
		p.MeetingID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lock meeting %s: %w", p.MeetingID, err)
	}
	if !exists {
		return fmt.Errorf("meeting %s: %w", p.MeetingID, domain.ErrNotFound)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(speaking_order), 0) + 1
		 FROM meeting_participants WHERE meeting_id = $1`, p.MeetingID).Scan(&p.SpeakingOrder)
	if err != nil {
		return fmt.Errorf("next speaking order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO meeting_participants (meeting_id, agent_id, role, speaking_order, joined_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.MeetingID, p.AgentID, p.Role, p.SpeakingOrder, p.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add participant %s: %w", p.AgentID, domain.ErrDuplicate)
		}
		return fmt.Errorf("add participant %s: %w", p.AgentID, err)
	}

	return tx.Commit(ctx)
}

// --- Transcript ---

// AppendMeetingMessage assigns the next gap-free sequence number under a
// row lock on the meeting, then inserts the message.
func (s *Store) AppendMeetingMessage(ctx context.Context, m *meeting.Message) (*meeting.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1 FOR UPDATE)`,
		m.MeetingID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lock meeting %s: %w", m.MeetingID, err)
	}
	if !exists {
		return nil, fmt.Errorf("meeting %s: %w", m.MeetingID, domain.ErrNotFound)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1
		 FROM meeting_messages WHERE meeting_id = $1`, m.MeetingID).Scan(&m.SequenceNumber)
	if err != nil {
		return nil, fmt.Errorf("next sequence number: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO meeting_messages (meeting_id, sequence_number, agent_id, content, message_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.MeetingID, m.SequenceNumber, m.AgentID, m.Content, m.Type, m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append meeting message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (s *Store) ListMeetingMessages(ctx context.Context, meetingID string, afterSeq int64) ([]meeting.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT meeting_id, sequence_number, agent_id, content, message_type, created_at
		 FROM meeting_messages
		 WHERE meeting_id = $1 AND sequence_number > $2
		 ORDER BY sequence_number`, meetingID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list meeting messages: %w", err)
	}
	defer rows.Close()

	var messages []meeting.Message
	for rows.Next() {
		var m meeting.Message
		if err := rows.Scan(&m.MeetingID, &m.SequenceNumber, &m.AgentID, &m.Content,
			&m.Type, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan meeting message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Decisions ---

func (s *Store) CreateDecision(ctx context.Context, d *meeting.Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (id, meeting_id, title, description, options, selected_option,
		     rationale, participant_agreement, related_communication_ids, status, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.MeetingID, d.Title, d.Description, d.Options, d.SelectedOption,
		d.Rationale, d.ParticipantAgreement, d.RelatedCommunicationIDs, d.Status, d.DecidedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create decision %s: %w", d.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("create decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (*meeting.Decision, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, meeting_id, title, description, options, selected_option, rationale,
		     participant_agreement, related_communication_ids, status, decided_at
		 FROM decisions WHERE id = $1`, id)

	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get decision %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) ListDecisions(ctx context.Context, meetingID string) ([]meeting.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, meeting_id, title, description, options, selected_option, rationale,
		     participant_agreement, related_communication_ids, status, decided_at
		 FROM decisions WHERE meeting_id = $1 ORDER BY decided_at`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []meeting.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func scanDecision(row rowScanner) (*meeting.Decision, error) {
	var d meeting.Decision
	err := row.Scan(&d.ID, &d.MeetingID, &d.Title, &d.Description, &d.Options,
		&d.SelectedOption, &d.Rationale, &d.ParticipantAgreement,
		&d.RelatedCommunicationIDs, &d.Status, &d.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
