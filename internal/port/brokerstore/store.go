// Package brokerstore defines the project-namespaced broker store port:
// typed key/value access for protocols and sessions plus bounded per-session
// message queues. Every operation takes a project ID as its namespace root;
// operations on different projects are mutually invisible even when
// lower-level identifiers coincide.
package brokerstore

import (
	"context"

	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
)

// ProtocolFilter narrows protocol listings within a project.
type ProtocolFilter struct {
	Name    string
	Version string
}

// SessionFilter narrows session listings within a project.
type SessionFilter struct {
	Status session.Status
}

// Store is the port interface for broker state.
type Store interface {
	// Protocols
	SaveProtocol(ctx context.Context, projectID string, p *protocol.Protocol) error
	GetProtocol(ctx context.Context, projectID, name, version string) (*protocol.Protocol, error)
	ListProtocols(ctx context.Context, projectID string, f ProtocolFilter) ([]protocol.Protocol, error)
	DeleteProtocol(ctx context.Context, projectID, name, version string) error

	// Sessions
	SaveSession(ctx context.Context, projectID string, s *session.Session) error
	GetSession(ctx context.Context, projectID, sessionID string) (*session.Session, error)
	ListSessions(ctx context.Context, projectID string, f SessionFilter) ([]session.Session, error)
	DeleteSession(ctx context.Context, projectID, sessionID string) error

	// Queues. Enqueue fails with domain.ErrQueueFull at capacity and must
	// keep the owning session's queue_size equal to the real queue length.
	Enqueue(ctx context.Context, projectID, sessionID string, msg *message.Message) (queueSize int, err error)
	Dequeue(ctx context.Context, projectID, sessionID string, limit int) ([]message.Message, error)
	QueueSize(ctx context.Context, projectID, sessionID string) (int, error)
	ClearQueue(ctx context.Context, projectID, sessionID string) error
}
