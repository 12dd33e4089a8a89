package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/agent"
)

// Agent token hashes live in agent_api_keys; the agents table carries the
// identity row. GetAgent* joins the active key so callers see TokenHash.
const agentCols = `a.id, a.project_id, a.nickname, COALESCE(k.token_hash, ''),
	a.capabilities, a.status, a.is_active, a.last_used`

const agentJoin = `FROM agents a
	LEFT JOIN agent_api_keys k ON k.agent_id = a.id AND k.is_active`

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` `+agentJoin+` WHERE a.id = $1`, id)
	return scanAgent(row, "get agent "+id)
}

func (s *Store) GetAgentByNickname(ctx context.Context, projectID, nickname string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` `+agentJoin+` WHERE a.project_id = $1 AND a.nickname = $2`,
		projectID, nickname)
	return scanAgent(row, fmt.Sprintf("get agent %s/%s", projectID, nickname))
}

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, project_id, nickname, capabilities, status, is_active, last_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ProjectID, a.Nickname, a.Capabilities, a.Status, a.IsActive, a.LastUsed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent %s/%s: %w", a.ProjectID, a.Nickname, domain.ErrDuplicate)
		}
		return fmt.Errorf("create agent %s/%s: %w", a.ProjectID, a.Nickname, err)
	}
	return nil
}

func (s *Store) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET capabilities = $2, status = $3, is_active = $4, last_used = $5
		 WHERE id = $1`,
		a.ID, a.Capabilities, a.Status, a.IsActive, a.LastUsed)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` `+agentJoin+` WHERE a.project_id = $1 ORDER BY a.nickname`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		var a agent.Agent
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Nickname, &a.TokenHash,
			&a.Capabilities, &a.Status, &a.IsActive, &a.LastUsed); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner, op string) (*agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.ProjectID, &a.Nickname, &a.TokenHash,
		&a.Capabilities, &a.Status, &a.IsActive, &a.LastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

// --- Agent API keys ---

func (s *Store) CreateAgentAPIKey(ctx context.Context, k *agent.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_api_keys (id, agent_id, token_hash, created_by_id, created_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		k.ID, k.AgentID, k.TokenHash, k.CreatedByID, k.CreatedAt, k.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent api key: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("create agent api key: %w", err)
	}
	return nil
}

func (s *Store) GetAgentAPIKeyByHash(ctx context.Context, hash string) (*agent.APIKey, error) {
	var k agent.APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, token_hash, created_by_id, created_at, last_used, is_active
		 FROM agent_api_keys WHERE token_hash = $1 AND is_active`, hash).
		Scan(&k.ID, &k.AgentID, &k.TokenHash, &k.CreatedByID, &k.CreatedAt, &k.LastUsed, &k.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent api key: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent api key: %w", err)
	}
	return &k, nil
}

func (s *Store) TouchAgentAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agent_api_keys SET last_used = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("touch agent api key: %w", err)
	}
	return nil
}
