package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/agent"
	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/user"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu           sync.Mutex
	projects     map[string]*project.Project
	users        map[string]*user.User
	agents       map[string]*agent.Agent
	agentKeys    map[string]*agent.APIKey // by token hash
	revoked      map[string]time.Time
	refresh      map[string]string // jti -> user id
	refreshExp   map[string]time.Time
	meetings     map[string]*meeting.Meeting
	participants map[string][]meeting.Participant
	messages     map[string][]meeting.Message
	decisions    map[string][]meeting.Decision

	failWith error // when set, every call fails with it
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:     make(map[string]*project.Project),
		users:        make(map[string]*user.User),
		agents:       make(map[string]*agent.Agent),
		agentKeys:    make(map[string]*agent.APIKey),
		revoked:      make(map[string]time.Time),
		refresh:      make(map[string]string),
		refreshExp:   make(map[string]time.Time),
		meetings:     make(map[string]*meeting.Meeting),
		participants: make(map[string][]meeting.Participant),
		messages:     make(map[string][]meeting.Message),
		decisions:    make(map[string][]meeting.Decision),
	}
}

func (m *mockStore) ListProjects(_ context.Context) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]project.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, domain.ErrDuplicate)
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) UpdateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.projects[p.ID]; !ok {
		return fmt.Errorf("project %s: %w", p.ID, domain.ErrNotFound)
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	delete(m.projects, id)
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) GetUserByUsername(_ context.Context, username string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
}

func (m *mockStore) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return fmt.Errorf("user %s: %w", u.Username, domain.ErrDuplicate)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockStore) UpdateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *mockStore) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetAgentByNickname(_ context.Context, projectID, nickname string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.ProjectID == projectID && a.Nickname == nickname {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent %s/%s: %w", projectID, nickname, domain.ErrNotFound)
}

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.agents {
		if existing.ProjectID == a.ProjectID && existing.Nickname == a.Nickname {
			return fmt.Errorf("agent %s/%s: %w", a.ProjectID, a.Nickname, domain.ErrDuplicate)
		}
	}
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) UpdateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; !ok {
		return fmt.Errorf("agent %s: %w", a.ID, domain.ErrNotFound)
	}
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) ListAgents(_ context.Context, projectID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		if a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) CreateAgentAPIKey(_ context.Context, k *agent.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.agentKeys[k.TokenHash] = &cp
	return nil
}

func (m *mockStore) GetAgentAPIKeyByHash(_ context.Context, hash string) (*agent.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.agentKeys[hash]
	if !ok || !k.IsActive {
		return nil, fmt.Errorf("agent key: %w", domain.ErrNotFound)
	}
	cp := *k
	return &cp, nil
}

func (m *mockStore) TouchAgentAPIKey(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.agentKeys {
		if k.ID == id {
			k.LastUsed = &usedAt
		}
	}
	return nil
}

func (m *mockStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *mockStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *mockStore) SaveRefreshToken(_ context.Context, jti, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[jti] = userID
	m.refreshExp[jti] = expiresAt
	return nil
}

func (m *mockStore) GetRefreshTokenUser(_ context.Context, jti string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[jti]
	if !ok || time.Now().After(m.refreshExp[jti]) {
		return "", fmt.Errorf("refresh token: %w", domain.ErrNotFound)
	}
	return userID, nil
}

func (m *mockStore) DeleteRefreshToken(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, jti)
	delete(m.refreshExp, jti)
	return nil
}

func (m *mockStore) PurgeExpiredTokens(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for jti, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, jti)
			n++
		}
	}
	for jti, exp := range m.refreshExp {
		if now.After(exp) {
			delete(m.refresh, jti)
			delete(m.refreshExp, jti)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CreateMeeting(_ context.Context, mt *meeting.Meeting, participants []meeting.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	cp := *mt
	m.meetings[mt.ID] = &cp
	m.participants[mt.ID] = append([]meeting.Participant(nil), participants...)
	return nil
}

func (m *mockStore) GetMeeting(_ context.Context, id string) (*meeting.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, domain.ErrNotFound)
	}
	cp := *mt
	return &cp, nil
}

func (m *mockStore) UpdateMeeting(_ context.Context, mt *meeting.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meetings[mt.ID]; !ok {
		return fmt.Errorf("meeting %s: %w", mt.ID, domain.ErrNotFound)
	}
	cp := *mt
	m.meetings[mt.ID] = &cp
	return nil
}

func (m *mockStore) ListMeetings(_ context.Context, status meeting.Status) ([]meeting.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meeting.Meeting
	for _, mt := range m.meetings {
		if status == "" || mt.Status == status {
			out = append(out, *mt)
		}
	}
	return out, nil
}

func (m *mockStore) ListParticipants(_ context.Context, meetingID string) ([]meeting.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]meeting.Participant(nil), m.participants[meetingID]...), nil
}

func (m *mockStore) AddParticipant(_ context.Context, p *meeting.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, existing := range m.participants[p.MeetingID] {
		if existing.AgentID == p.AgentID {
			return fmt.Errorf("participant %s: %w", p.AgentID, domain.ErrDuplicate)
		}
		if existing.SpeakingOrder > max {
			max = existing.SpeakingOrder
		}
	}
	p.SpeakingOrder = max + 1
	m.participants[p.MeetingID] = append(m.participants[p.MeetingID], *p)
	return nil
}

func (m *mockStore) AppendMeetingMessage(_ context.Context, msg *meeting.Message) (*meeting.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	msg.SequenceNumber = int64(len(m.messages[msg.MeetingID])) + 1
	m.messages[msg.MeetingID] = append(m.messages[msg.MeetingID], *msg)
	cp := *msg
	return &cp, nil
}

func (m *mockStore) ListMeetingMessages(_ context.Context, meetingID string, afterSeq int64) ([]meeting.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meeting.Message
	for _, msg := range m.messages[meetingID] {
		if msg.SequenceNumber > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) CreateDecision(_ context.Context, d *meeting.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.MeetingID] = append(m.decisions[d.MeetingID], *d)
	return nil
}

func (m *mockStore) GetDecision(_ context.Context, id string) (*meeting.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.decisions {
		for i := range list {
			if list[i].ID == id {
				cp := list[i]
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("decision %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) ListDecisions(_ context.Context, meetingID string) ([]meeting.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]meeting.Decision(nil), m.decisions[meetingID]...), nil
}
