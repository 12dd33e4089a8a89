// Package service implements business logic on top of ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// rotationGrace is how long a rotated-out key keeps validating.
const rotationGrace = 300 * time.Second

// RegistryService manages project lifecycle and API key credentials.
type RegistryService struct {
	store  database.Store
	broker brokerstore.Store
	policy *AdminPolicy
	log    *slog.Logger
}

// NewRegistryService creates a new RegistryService.
func NewRegistryService(store database.Store, broker brokerstore.Store, policy *AdminPolicy, log *slog.Logger) *RegistryService {
	return &RegistryService{store: store, broker: broker, policy: policy, log: log}
}

// CreateResult carries a created project and its one-time plaintext keys.
type CreateResult struct {
	Project *project.Project  `json:"project"`
	Keys    map[string]string `json:"api_keys"` // key_id -> plaintext
}

// Create registers a new project and mints its initial admin key. The
// plaintext is returned exactly once; only the hash is stored.
func (s *RegistryService) Create(ctx context.Context, req *project.CreateRequest) (*CreateResult, error) {
	if err := project.ValidateCreateRequest(*req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &project.Project{
		ID: req.ID,
		Metadata: project.Metadata{
			Name:        req.Name,
			Description: req.Description,
			Tags:        req.Tags,
			Owner:       req.Owner,
		},
		Config:    project.DefaultConfig(),
		Status:    project.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Config != nil {
		p.Config = *req.Config
	}

	k, plaintext, err := project.MintAPIKey(p.ID, project.KeyIDAdmin, now)
	if err != nil {
		return nil, err
	}
	p.APIKeys = append(p.APIKeys, k)
	keys := map[string]string{project.KeyIDAdmin: plaintext}

	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info("project created", "project_id", p.ID, "name", p.Metadata.Name)
	return &CreateResult{Project: p, Keys: keys}, nil
}

// Get returns a project by ID.
func (s *RegistryService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// List returns projects matching the filter. Inactive projects and projects
// that opted out of discovery are hidden unless the filter includes them.
func (s *RegistryService) List(ctx context.Context, f project.ListFilter) ([]project.Project, error) {
	all, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]project.Project, 0, len(all))
	for _, p := range all {
		if !f.IncludeInactive && p.Status != project.StatusActive {
			continue
		}
		if !f.IncludeHidden && !p.Config.Discoverable {
			continue
		}
		if f.Name != "" && p.Metadata.Name != f.Name {
			continue
		}
		if !f.IncludeStats {
			p.Statistics = project.Statistics{}
		}
		out = append(out, p)
	}
	return out, nil
}

// Discoverable returns active projects that opted into discovery. Used by
// agents looking for cross-project peers.
func (s *RegistryService) Discoverable(ctx context.Context) ([]project.Project, error) {
	all, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]project.Project, 0, len(all))
	for _, p := range all {
		if p.Status == project.StatusActive && p.Config.Discoverable {
			p.APIKeys = nil
			out = append(out, p)
		}
	}
	return out, nil
}

// Update applies partial updates to a project.
func (s *RegistryService) Update(ctx context.Context, id string, req project.UpdateRequest) (*project.Project, error) {
	if err := project.ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		p.Metadata.Name = *req.Name
	}
	if req.Description != nil {
		p.Metadata.Description = *req.Description
	}
	if req.Tags != nil {
		p.Metadata.Tags = req.Tags
	}
	if req.Config != nil {
		p.Config = *req.Config
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	s.policy.Invalidate()
	return p, nil
}

// Delete removes a project. It refuses while the project still has live
// broker sessions; force skips that check and severs them.
func (s *RegistryService) Delete(ctx context.Context, id string, force bool) error {
	if _, err := s.store.GetProject(ctx, id); err != nil {
		return err
	}

	sessions, err := s.broker.ListSessions(ctx, id, brokerstore.SessionFilter{})
	if err != nil {
		return err
	}
	live := 0
	for i := range sessions {
		if sessions[i].Live() {
			live++
		}
	}
	if live > 0 && !force {
		return fmt.Errorf("project %s has %d live sessions: %w", id, live, domain.ErrConflict)
	}

	for i := range sessions {
		if err := s.broker.DeleteSession(ctx, id, sessions[i].ID); err != nil &&
			!errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.policy.Invalidate()
	s.log.Info("project deleted", "project_id", id, "forced", force)
	return nil
}

// KeyIdentity is the result of a successful API key validation.
type KeyIdentity struct {
	ProjectID string `json:"project_id"`
	KeyID     string `json:"key_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// ValidateAPIKey checks a plaintext API key against the stored hashes. The
// key must parse, the project must exist and be active, and the matching
// stored key must be active and within any rotation grace window.
func (s *RegistryService) ValidateAPIKey(ctx context.Context, plaintext string) (*KeyIdentity, error) {
	projectID, keyID, _, err := project.ParseAPIKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("api key: %w", domain.ErrUnauthorized)
	}

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("api key: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if p.Status != project.StatusActive {
		return nil, fmt.Errorf("project %s is inactive: %w", projectID, domain.ErrUnauthorized)
	}

	hash := project.HashAPIKey(plaintext)
	now := time.Now().UTC()
	for i := range p.APIKeys {
		k := &p.APIKeys[i]
		if k.KeyID != keyID || k.Hash != hash {
			continue
		}
		if !k.IsActive || k.Expired(now) {
			return nil, fmt.Errorf("api key for %s/%s revoked or expired: %w", projectID, keyID, domain.ErrUnauthorized)
		}
		return &KeyIdentity{ProjectID: projectID, KeyID: keyID, IsAdmin: k.IsAdmin()}, nil
	}
	return nil, fmt.Errorf("api key: %w", domain.ErrUnauthorized)
}

// RotateAPIKeys mints replacements for the project's keys. An empty keyID
// rotates every key; otherwise just the named one. Old keys stay valid for
// the rotation grace period so in-flight clients can switch over. Returns
// key_id -> fresh plaintext.
func (s *RegistryService) RotateAPIKeys(ctx context.Context, projectID, keyID string) (map[string]string, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rotate := map[string]bool{}
	for i := range p.APIKeys {
		k := &p.APIKeys[i]
		if keyID != "" && k.KeyID != keyID {
			continue
		}
		if k.ExpiresAt != nil {
			// Already in its grace window from a previous rotation.
			continue
		}
		rotate[k.KeyID] = true
		grace := now.Add(rotationGrace)
		k.ExpiresAt = &grace
	}
	if len(rotate) == 0 {
		return nil, fmt.Errorf("key %s in project %s: %w", keyID, projectID, domain.ErrNotFound)
	}

	fresh := make(map[string]string, len(rotate))
	for id := range rotate {
		k, plaintext, err := project.MintAPIKey(projectID, id, now)
		if err != nil {
			return nil, err
		}
		p.APIKeys = append(p.APIKeys, k)
		fresh[id] = plaintext
	}
	p.UpdatedAt = now

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("api keys rotated", "project_id", projectID, "count", len(fresh))
	return fresh, nil
}

// PruneExpiredKeys drops keys whose rotation grace has elapsed.
func (s *RegistryService) PruneExpiredKeys(ctx context.Context, projectID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	kept := p.APIKeys[:0]
	for _, k := range p.APIKeys {
		if k.Expired(now) {
			continue
		}
		kept = append(kept, k)
	}
	if len(kept) == len(p.APIKeys) {
		return nil
	}
	p.APIKeys = kept
	return s.store.UpdateProject(ctx, p)
}

// RefreshStatistics recomputes session and protocol counters from broker
// state and persists them on the project row.
func (s *RegistryService) RefreshStatistics(ctx context.Context, projectID string) (*project.Statistics, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{Status: session.StatusActive})
	if err != nil {
		return nil, err
	}
	protocols, err := s.broker.ListProtocols(ctx, projectID, brokerstore.ProtocolFilter{})
	if err != nil {
		return nil, err
	}

	p.Statistics.SessionCount = len(sessions)
	p.Statistics.ProtocolCount = len(protocols)
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return &p.Statistics, nil
}
