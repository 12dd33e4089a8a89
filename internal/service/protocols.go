package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// ProtocolService manages protocol registration, discovery, and sharing.
type ProtocolService struct {
	store  database.Store
	broker brokerstore.Store
	log    *slog.Logger
}

// NewProtocolService creates a new ProtocolService.
func NewProtocolService(store database.Store, broker brokerstore.Store, log *slog.Logger) *ProtocolService {
	return &ProtocolService{store: store, broker: broker, log: log}
}

// Register stores a protocol after validating its identity and schema.
// Re-registering an existing (name, version) fails with ErrDuplicate; new
// behavior means a new version.
func (s *ProtocolService) Register(ctx context.Context, projectID string, p *protocol.Protocol) (*protocol.Protocol, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.broker.ListProtocols(ctx, projectID, brokerstore.ProtocolFilter{})
	if err != nil {
		return nil, err
	}
	if proj.Config.MaxProtocols > 0 && len(existing) >= proj.Config.MaxProtocols {
		return nil, fmt.Errorf("project %s at protocol limit %d: %w",
			projectID, proj.Config.MaxProtocols, domain.ErrConflict)
	}

	p.ProjectID = projectID
	p.RegisteredAt = time.Now().UTC()
	if err := s.broker.SaveProtocol(ctx, projectID, p); err != nil {
		return nil, err
	}

	s.log.Info("protocol registered",
		"project_id", projectID, "name", p.Name, "version", p.Version)
	return p, nil
}

// Get returns one protocol by exact (name, version).
func (s *ProtocolService) Get(ctx context.Context, projectID, name, version string) (*protocol.Protocol, error) {
	return s.broker.GetProtocol(ctx, projectID, name, version)
}

// DiscoverFilter narrows protocol discovery.
type DiscoverFilter struct {
	Name          string   `json:"name,omitempty"`
	Version       string   `json:"version,omitempty"`
	Tags          []string `json:"tags,omitempty"` // all must match
	IncludeShared bool     `json:"include_shared,omitempty"`
}

// Discover lists the project's protocols, optionally unioned with protocol
// versions other projects have shared with this one. Tag filters require
// every listed tag to be present.
func (s *ProtocolService) Discover(ctx context.Context, projectID string, f DiscoverFilter) ([]protocol.Protocol, error) {
	own, err := s.broker.ListProtocols(ctx, projectID,
		brokerstore.ProtocolFilter{Name: f.Name, Version: f.Version})
	if err != nil {
		return nil, err
	}
	out := filterByTags(own, f.Tags)

	if !f.IncludeShared {
		return out, nil
	}

	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p.ProjectID + "/" + p.Name + "@" + p.Version] = true
	}

	for _, proj := range projects {
		if proj.ID == projectID {
			continue
		}
		shared := make(map[string]bool)
		for _, sh := range proj.Config.ProtocolShares {
			if sh.TargetProjectID == projectID {
				shared[sh.Name+"@"+sh.Version] = true
			}
		}
		if len(shared) == 0 {
			continue
		}

		theirs, err := s.broker.ListProtocols(ctx, proj.ID,
			brokerstore.ProtocolFilter{Name: f.Name, Version: f.Version})
		if err != nil {
			return nil, err
		}
		for _, p := range filterByTags(theirs, f.Tags) {
			if !shared[p.Name+"@"+p.Version] {
				continue
			}
			key := p.ProjectID + "/" + p.Name + "@" + p.Version
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func filterByTags(protocols []protocol.Protocol, tags []string) []protocol.Protocol {
	if len(tags) == 0 {
		return protocols
	}
	out := make([]protocol.Protocol, 0, len(protocols))
	for _, p := range protocols {
		match := true
		for _, tag := range tags {
			if !p.HasTag([]string{tag}) {
				match = false
				break
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out
}

// Share grants the target project discovery access to one protocol version.
// The version must exist, the target must be a real foreign project, and
// granting twice is a no-op.
func (s *ProtocolService) Share(ctx context.Context, projectID, name, version, targetProject string) error {
	if targetProject == projectID {
		return fmt.Errorf("cannot share a protocol with its own project: %w", domain.ErrValidation)
	}
	if _, err := s.broker.GetProtocol(ctx, projectID, name, version); err != nil {
		return err
	}
	if _, err := s.store.GetProject(ctx, targetProject); err != nil {
		return err
	}

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.SharedWith(targetProject, name, version) {
		return nil
	}
	p.Config.ProtocolShares = append(p.Config.ProtocolShares, project.ProtocolShare{
		Name:            name,
		Version:         version,
		TargetProjectID: targetProject,
	})
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	s.log.Info("protocol shared",
		"project_id", projectID, "name", name, "version", version, "target", targetProject)
	return nil
}

// Unshare revokes a previously granted share.
func (s *ProtocolService) Unshare(ctx context.Context, projectID, name, version, targetProject string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	kept := p.Config.ProtocolShares[:0]
	found := false
	for _, sh := range p.Config.ProtocolShares {
		if sh.Name == name && sh.Version == version && sh.TargetProjectID == targetProject {
			found = true
			continue
		}
		kept = append(kept, sh)
	}
	if !found {
		return fmt.Errorf("protocol %s@%s is not shared with %s: %w",
			name, version, targetProject, domain.ErrNotFound)
	}
	p.Config.ProtocolShares = kept
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	s.log.Info("protocol unshared",
		"project_id", projectID, "name", name, "version", version, "target", targetProject)
	return nil
}

// Delete removes a protocol version. It refuses while any live session in
// the project still advertises that exact version.
func (s *ProtocolService) Delete(ctx context.Context, projectID, name, version string) error {
	sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{})
	if err != nil {
		return err
	}
	for i := range sessions {
		sess := &sessions[i]
		if sess.Live() && sess.Capabilities.Speaks(name, version) {
			return fmt.Errorf("protocol %s@%s in use by session %s: %w",
				name, version, sess.ID, domain.ErrConflict)
		}
	}

	if err := s.broker.DeleteProtocol(ctx, projectID, name, version); err != nil {
		return err
	}
	s.log.Info("protocol deleted", "project_id", projectID, "name", name, "version", version)
	return nil
}
