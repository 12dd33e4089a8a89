package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/agent"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// AgentService manages agent identities and their bearer tokens.
type AgentService struct {
	store database.Store
	log   *slog.Logger
}

// NewAgentService creates a new AgentService.
func NewAgentService(store database.Store, log *slog.Logger) *AgentService {
	return &AgentService{store: store, log: log}
}

// RegisterResult carries a registered agent and its one-time token.
type RegisterResult struct {
	Agent *agent.Agent `json:"agent"`
	Token string       `json:"token"`
}

// Register creates an agent in the project and mints its token. createdBy
// is the minting user's ID, or empty when minted by an admin API key.
func (s *AgentService) Register(ctx context.Context, projectID, nickname string, capabilities map[string]string, createdBy string) (*RegisterResult, error) {
	if nickname == "" {
		return nil, fmt.Errorf("nickname is required: %w", domain.ErrValidation)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	plaintext, hash, err := agent.MintToken(projectID, nickname)
	if err != nil {
		return nil, err
	}

	a := &agent.Agent{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Nickname:     nickname,
		TokenHash:    hash,
		Capabilities: capabilities,
		Status:       agent.StatusOffline,
		IsActive:     true,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}

	key := &agent.APIKey{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		TokenHash: hash,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if createdBy != "" {
		key.CreatedByID = &createdBy
	}
	if err := s.store.CreateAgentAPIKey(ctx, key); err != nil {
		return nil, err
	}

	s.log.Info("agent registered", "project_id", projectID, "nickname", nickname)
	return &RegisterResult{Agent: a, Token: plaintext}, nil
}

// ValidateToken authenticates an agent bearer token. The token's embedded
// project and nickname must match the agent row the hash resolves to; a
// successful validation stamps last_used.
func (s *AgentService) ValidateToken(ctx context.Context, plaintext string) (*agent.Agent, error) {
	projectID, nickname, err := agent.ParseToken(plaintext)
	if err != nil {
		return nil, fmt.Errorf("agent token: %w", domain.ErrUnauthorized)
	}

	key, err := s.store.GetAgentAPIKeyByHash(ctx, agent.HashToken(plaintext))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("agent token: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}

	a, err := s.store.GetAgent(ctx, key.AgentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive || a.ProjectID != projectID || a.Nickname != nickname {
		return nil, fmt.Errorf("agent token: %w", domain.ErrUnauthorized)
	}

	now := time.Now().UTC()
	if err := s.store.TouchAgentAPIKey(ctx, key.ID, now); err != nil {
		s.log.Warn("touch agent api key", "agent_id", a.ID, "error", err)
	}
	a.LastUsed = &now
	return a, nil
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// List returns all agents in a project.
func (s *AgentService) List(ctx context.Context, projectID string) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx, projectID)
}

// SetStatus updates the agent's reported presence.
func (s *AgentService) SetStatus(ctx context.Context, id string, status agent.Status) (*agent.Agent, error) {
	switch status {
	case agent.StatusOnline, agent.StatusOffline, agent.StatusBusy, agent.StatusError:
	default:
		return nil, fmt.Errorf("status %q is not one of online/offline/busy/error: %w", status, domain.ErrValidation)
	}

	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = status
	if err := s.store.UpdateAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Deactivate disables an agent; its token stops validating.
func (s *AgentService) Deactivate(ctx context.Context, id string) error {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	a.IsActive = false
	a.Status = agent.StatusOffline
	if err := s.store.UpdateAgent(ctx, a); err != nil {
		return err
	}
	s.log.Info("agent deactivated", "agent_id", id, "project_id", a.ProjectID)
	return nil
}
