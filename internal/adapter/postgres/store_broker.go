package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
)

// BrokerStore is the durable brokerstore.Store. It trades the in-memory
// store's latency for restart survival; deployments pick one via config.
type BrokerStore struct {
	pool     *pgxpool.Pool
	capacity int
	log      *slog.Logger
}

var _ brokerstore.Store = (*BrokerStore)(nil)

// NewBrokerStore creates a durable broker store with the given per-session
// queue capacity.
func NewBrokerStore(pool *pgxpool.Pool, capacity int, log *slog.Logger) *BrokerStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &BrokerStore{pool: pool, capacity: capacity, log: log}
}

// --- Protocols ---

func (b *BrokerStore) SaveProtocol(ctx context.Context, projectID string, p *protocol.Protocol) error {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal protocol metadata: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO protocols (project_id, name, version, message_schema, capabilities, metadata, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		projectID, p.Name, p.Version, []byte(p.MessageSchema), p.Capabilities, metaJSON, p.RegisteredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("protocol %s@%s: %w", p.Name, p.Version, domain.ErrDuplicate)
		}
		return fmt.Errorf("save protocol %s@%s: %w", p.Name, p.Version, err)
	}
	return nil
}

func (b *BrokerStore) GetProtocol(ctx context.Context, projectID, name, version string) (*protocol.Protocol, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT project_id, name, version, message_schema, capabilities, metadata, registered_at
		 FROM protocols WHERE project_id = $1 AND name = $2 AND version = $3`,
		projectID, name, version)

	p, err := scanProtocol(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("protocol %s@%s: %w", name, version, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get protocol %s@%s: %w", name, version, err)
	}
	return p, nil
}

func (b *BrokerStore) ListProtocols(ctx context.Context, projectID string, f brokerstore.ProtocolFilter) ([]protocol.Protocol, error) {
	query := `SELECT project_id, name, version, message_schema, capabilities, metadata, registered_at
		 FROM protocols WHERE project_id = $1`
	args := []any{projectID}
	if f.Name != "" {
		args = append(args, f.Name)
		query += fmt.Sprintf(` AND name = $%d`, len(args))
	}
	if f.Version != "" {
		args = append(args, f.Version)
		query += fmt.Sprintf(` AND version = $%d`, len(args))
	}
	query += ` ORDER BY name, version`

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var protocols []protocol.Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		protocols = append(protocols, *p)
	}
	return protocols, rows.Err()
}

func (b *BrokerStore) DeleteProtocol(ctx context.Context, projectID, name, version string) error {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM protocols WHERE project_id = $1 AND name = $2 AND version = $3`,
		projectID, name, version)
	if err != nil {
		return fmt.Errorf("delete protocol %s@%s: %w", name, version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("protocol %s@%s: %w", name, version, domain.ErrNotFound)
	}
	return nil
}

func scanProtocol(row rowScanner) (*protocol.Protocol, error) {
	var (
		p          protocol.Protocol
		schemaJSON []byte
		metaJSON   []byte
	)
	err := row.Scan(&p.ProjectID, &p.Name, &p.Version, &schemaJSON, &p.Capabilities,
		&metaJSON, &p.RegisteredAt)
	if err != nil {
		return nil, err
	}
	p.MessageSchema = json.RawMessage(schemaJSON)
	if err := json.Unmarshal(metaJSON, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal protocol metadata: %w", err)
	}
	return &p, nil
}

// --- Sessions ---

func (b *BrokerStore) SaveSession(ctx context.Context, projectID string, s *session.Session) error {
	capsJSON, err := json.Marshal(s.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal session capabilities: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO sessions (project_id, id, connection_time, last_heartbeat, status, capabilities, queue_size)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_id, id) DO UPDATE SET
		     connection_time = EXCLUDED.connection_time,
		     last_heartbeat  = EXCLUDED.last_heartbeat,
		     status          = EXCLUDED.status,
		     capabilities    = EXCLUDED.capabilities,
		     queue_size      = EXCLUDED.queue_size`,
		projectID, s.ID, s.ConnectionTime, s.LastHeartbeat, s.Status, capsJSON, s.QueueSize)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (b *BrokerStore) GetSession(ctx context.Context, projectID, sessionID string) (*session.Session, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT project_id, id, connection_time, last_heartbeat, status, capabilities, queue_size
		 FROM sessions WHERE project_id = $1 AND id = $2`, projectID, sessionID)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return s, nil
}

func (b *BrokerStore) ListSessions(ctx context.Context, projectID string, f brokerstore.SessionFilter) ([]session.Session, error) {
	query := `SELECT project_id, id, connection_time, last_heartbeat, status, capabilities, queue_size
		 FROM sessions WHERE project_id = $1`
	args := []any{projectID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY connection_time`

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (b *BrokerStore) DeleteSession(ctx context.Context, projectID, sessionID string) error {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM sessions WHERE project_id = $1 AND id = $2`, projectID, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s        session.Session
		capsJSON []byte
	)
	err := row.Scan(&s.ProjectID, &s.ID, &s.ConnectionTime, &s.LastHeartbeat,
		&s.Status, &capsJSON, &s.QueueSize)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(capsJSON, &s.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal session capabilities: %w", err)
	}
	return &s, nil
}

// --- Queues ---

// Enqueue appends a message to the session queue, enforcing capacity and
// keeping sessions.queue_size consistent, all under the session row lock.
func (b *BrokerStore) Enqueue(ctx context.Context, projectID, sessionID string, msg *message.Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE project_id = $1 AND id = $2 FOR UPDATE)`,
		projectID, sessionID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	if !exists {
		return 0, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	var size int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM session_queue WHERE project_id = $1 AND session_id = $2`,
		projectID, sessionID).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	if size >= b.capacity {
		return size, fmt.Errorf("queue for session %s at capacity %d: %w",
			sessionID, b.capacity, domain.ErrQueueFull)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_queue (project_id, session_id, priority, payload)
		 VALUES ($1, $2, $3, $4)`,
		projectID, sessionID, msg.Headers.Priority.Rank(), payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	size++
	_, err = tx.Exec(ctx,
		`UPDATE sessions SET queue_size = $3 WHERE project_id = $1 AND id = $2`,
		projectID, sessionID, size)
	if err != nil {
		return 0, fmt.Errorf("update queue size: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if float64(size) >= float64(b.capacity)*0.9 {
		b.log.Warn("session queue near capacity",
			"project_id", projectID, "session_id", sessionID,
			"queue_size", size, "capacity", b.capacity)
	}
	return size, nil
}

// Dequeue drains up to limit messages in priority order, FIFO within a
// priority class. limit <= 0 drains everything.
func (b *BrokerStore) Dequeue(ctx context.Context, projectID, sessionID string, limit int) ([]message.Message, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `DELETE FROM session_queue
		 WHERE (project_id, session_id, seq) IN (
		     SELECT project_id, session_id, seq FROM session_queue
		     WHERE project_id = $1 AND session_id = $2
		     ORDER BY priority DESC, seq ASC`
	args := []any{projectID, sessionID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	query += ` FOR UPDATE)
		 RETURNING payload`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var messages []message.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		var m message.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal queued message: %w", err)
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET queue_size = (
		     SELECT count(*) FROM session_queue WHERE project_id = $1 AND session_id = $2
		 ) WHERE project_id = $1 AND id = $2`, projectID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("update queue size: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return messages, nil
}

func (b *BrokerStore) QueueSize(ctx context.Context, projectID, sessionID string) (int, error) {
	var size int
	err := b.pool.QueryRow(ctx,
		`SELECT count(*) FROM session_queue WHERE project_id = $1 AND session_id = $2`,
		projectID, sessionID).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return size, nil
}

func (b *BrokerStore) ClearQueue(ctx context.Context, projectID, sessionID string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_queue WHERE project_id = $1 AND session_id = $2`,
		projectID, sessionID); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET queue_size = 0 WHERE project_id = $1 AND id = $2`,
		projectID, sessionID); err != nil {
		return fmt.Errorf("reset queue size: %w", err)
	}
	return tx.Commit(ctx)
}
