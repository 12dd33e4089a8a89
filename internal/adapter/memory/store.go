// Package memory implements the broker store port with per-process state.
// Broker state (protocols, sessions, queues) is lost on restart; durable
// records live in the postgres adapter.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
)

// DefaultQueueCapacity bounds each session queue unless configured otherwise.
const DefaultQueueCapacity = 100

// warnWatermark is the queue utilization at which a warning is logged.
const warnWatermark = 0.9

// Store holds all broker state for every project, namespaced by project ID.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*projectState
	capacity int
}

// projectState is one project's slice of the broker. Its own mutex keeps
// contention scoped to a single project.
type projectState struct {
	mu        sync.RWMutex
	protocols map[string]protocol.Protocol // key: name@version
	sessions  map[string]*session.Session
	queues    map[string]*priorityQueue
}

// NewStore creates an in-memory broker store. queueCapacity <= 0 selects
// the default capacity of 100.
func NewStore(queueCapacity int) *Store {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Store{
		projects: make(map[string]*projectState),
		capacity: queueCapacity,
	}
}

var _ brokerstore.Store = (*Store)(nil)

func protocolKey(name, version string) string { return name + "@" + version }

// project returns the state for projectID, creating it on first use.
func (s *Store) project(projectID string) *projectState {
	s.mu.RLock()
	ps, ok := s.projects[projectID]
	s.mu.RUnlock()
	if ok {
		return ps
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok = s.projects[projectID]; ok {
		return ps
	}
	ps = &projectState{
		protocols: make(map[string]protocol.Protocol),
		sessions:  make(map[string]*session.Session),
		queues:    make(map[string]*priorityQueue),
	}
	s.projects[projectID] = ps
	return ps
}

// DropProject discards all broker state for a project.
func (s *Store) DropProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
}

// --- Protocols ---

// SaveProtocol stores a protocol, failing with ErrDuplicate when the
// (name, version) pair already exists in the project.
func (s *Store) SaveProtocol(_ context.Context, projectID string, p *protocol.Protocol) error {
	if projectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	key := protocolKey(p.Name, p.Version)
	if _, exists := ps.protocols[key]; exists {
		return fmt.Errorf("protocol %s %s in project %s: %w", p.Name, p.Version, projectID, domain.ErrDuplicate)
	}
	stored := *p
	stored.ProjectID = projectID
	ps.protocols[key] = stored
	return nil
}

func (s *Store) GetProtocol(_ context.Context, projectID, name, version string) (*protocol.Protocol, error) {
	ps := s.project(projectID)
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	p, ok := ps.protocols[protocolKey(name, version)]
	if !ok {
		return nil, fmt.Errorf("protocol %s %s in project %s: %w", name, version, projectID, domain.ErrNotFound)
	}
	out := p
	return &out, nil
}

func (s *Store) ListProtocols(_ context.Context, projectID string, f brokerstore.ProtocolFilter) ([]protocol.Protocol, error) {
	ps := s.project(projectID)
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]protocol.Protocol, 0, len(ps.protocols))
	for _, p := range ps.protocols {
		if f.Name != "" && p.Name != f.Name {
			continue
		}
		if f.Version != "" && p.Version != f.Version {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (s *Store) DeleteProtocol(_ context.Context, projectID, name, version string) error {
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	key := protocolKey(name, version)
	if _, ok := ps.protocols[key]; !ok {
		return fmt.Errorf("protocol %s %s in project %s: %w", name, version, projectID, domain.ErrNotFound)
	}
	delete(ps.protocols, key)
	return nil
}

// --- Sessions ---

func (s *Store) SaveSession(_ context.Context, projectID string, sess *session.Session) error {
	if projectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	stored := *sess
	stored.ProjectID = projectID
	ps.sessions[sess.ID] = &stored
	if _, ok := ps.queues[sess.ID]; !ok {
		ps.queues[sess.ID] = newPriorityQueue(s.capacity)
	}
	return nil
}

func (s *Store) GetSession(_ context.Context, projectID, sessionID string) (*session.Session, error) {
	ps := s.project(projectID)
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	sess, ok := ps.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	out := *sess
	return &out, nil
}

func (s *Store) ListSessions(_ context.Context, projectID string, f brokerstore.SessionFilter) ([]session.Session, error) {
	ps := s.project(projectID)
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]session.Session, 0, len(ps.sessions))
	for _, sess := range ps.sessions {
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSession removes a session and discards its queue.
func (s *Store) DeleteSession(_ context.Context, projectID, sessionID string) error {
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	delete(ps.sessions, sessionID)
	delete(ps.queues, sessionID)
	return nil
}

// --- Queues ---

// Enqueue appends a message to the recipient session's queue. It fails with
// ErrQueueFull at capacity and logs a warning at 90% utilization.
func (s *Store) Enqueue(_ context.Context, projectID, sessionID string, msg *message.Message) (int, error) {
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sess, ok := ps.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	q := ps.queues[sessionID]
	if q == nil {
		q = newPriorityQueue(s.capacity)
		ps.queues[sessionID] = q
	}

	if q.Len() >= q.capacity {
		return q.Len(), fmt.Errorf("queue for session %s at capacity %d: %w", sessionID, q.capacity, domain.ErrQueueFull)
	}

	q.Push(*msg)
	sess.QueueSize = q.Len()

	if float64(q.Len()) >= warnWatermark*float64(q.capacity) {
		slog.Warn("session queue near capacity",
			"project_id", projectID,
			"session_id", sessionID,
			"queue_size", q.Len(),
			"capacity", q.capacity,
		)
	}
	return q.Len(), nil
}

// Dequeue removes up to limit messages, oldest first within each priority
// class, urgent first across classes, and updates the session's queue_size.
func (s *Store) Dequeue(_ context.Context, projectID, sessionID string, limit int) ([]message.Message, error) {
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sess, ok := ps.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	q := ps.queues[sessionID]
	if q == nil {
		return nil, nil
	}

	msgs := q.Pop(limit)
	sess.QueueSize = q.Len()
	return msgs, nil
}

func (s *Store) QueueSize(_ context.Context, projectID, sessionID string) (int, error) {
	ps := s.project(projectID)
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if _, ok := ps.sessions[sessionID]; !ok {
		return 0, fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	if q := ps.queues[sessionID]; q != nil {
		return q.Len(), nil
	}
	return 0, nil
}

func (s *Store) ClearQueue(_ context.Context, projectID, sessionID string) error {
	ps := s.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sess, ok := ps.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s in project %s: %w", sessionID, projectID, domain.ErrNotFound)
	}
	if q := ps.queues[sessionID]; q != nil {
		q.Clear()
	}
	sess.QueueSize = 0
	return nil
}
