// Package database defines the durable store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain/agent"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/user"
)

// Store is the port interface for durable persistence.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, p *project.Project) error
	UpdateProject(ctx context.Context, p *project.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Users
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
	UpdateUser(ctx context.Context, u *user.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]user.User, error)

	// Agents and their API keys
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	GetAgentByNickname(ctx context.Context, projectID, nickname string) (*agent.Agent, error)
	CreateAgent(ctx context.Context, a *agent.Agent) error
	UpdateAgent(ctx context.Context, a *agent.Agent) error
	ListAgents(ctx context.Context, projectID string) ([]agent.Agent, error)
	CreateAgentAPIKey(ctx context.Context, k *agent.APIKey) error
	GetAgentAPIKeyByHash(ctx context.Context, hash string) (*agent.APIKey, error)
	TouchAgentAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Tokens (JWT revocation + refresh validity set)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	SaveRefreshToken(ctx context.Context, jti, userID string, expiresAt time.Time) error
	GetRefreshTokenUser(ctx context.Context, jti string) (string, error)
	DeleteRefreshToken(ctx context.Context, jti string) error
	PurgeExpiredTokens(ctx context.Context) (int64, error)

	// Meetings
	CreateMeeting(ctx context.Context, m *meeting.Meeting, participants []meeting.Participant) error
	GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error)
	UpdateMeeting(ctx context.Context, m *meeting.Meeting) error
	ListMeetings(ctx context.Context, status meeting.Status) ([]meeting.Meeting, error)
	ListParticipants(ctx context.Context, meetingID string) ([]meeting.Participant, error)
	AddParticipant(ctx context.Context, p *meeting.Participant) error

	// Transcript. AppendMeetingMessage assigns max(sequence_number)+1
	// atomically per meeting and returns the stored message.
	AppendMeetingMessage(ctx context.Context, m *meeting.Message) (*meeting.Message, error)
	ListMeetingMessages(ctx context.Context, meetingID string, afterSeq int64) ([]meeting.Message, error)

	// Decisions
	CreateDecision(ctx context.Context, d *meeting.Decision) error
	GetDecision(ctx context.Context, id string) (*meeting.Decision, error)
	ListDecisions(ctx context.Context, meetingID string) ([]meeting.Decision, error)
}
