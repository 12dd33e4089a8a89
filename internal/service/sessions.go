package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// SessionService manages session lifecycle: registration, heartbeats, the
// stale/disconnect state machine, and queue draining.
type SessionService struct {
	store  database.Store
	broker brokerstore.Store
	cfg    config.Broker
	log    *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(store database.Store, broker brokerstore.Store, cfg config.Broker, log *slog.Logger) *SessionService {
	return &SessionService{store: store, broker: broker, cfg: cfg, log: log}
}

// Create registers a session. If the session ID is already present in the
// project, the new connection takes over: the old presence and its queued
// messages are discarded.
func (s *SessionService) Create(ctx context.Context, projectID, sessionID string, caps session.Capabilities) (*session.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required: %w", domain.ErrValidation)
	}

	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.broker.GetSession(ctx, projectID, sessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		s.log.Info("session takeover",
			"project_id", projectID, "session_id", sessionID,
			"abandoned_queue", existing.QueueSize)
		if err := s.broker.ClearQueue(ctx, projectID, sessionID); err != nil {
			return nil, err
		}
	} else if proj.Config.MaxSessions > 0 {
		sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{})
		if err != nil {
			return nil, err
		}
		live := 0
		for i := range sessions {
			if sessions[i].Live() {
				live++
			}
		}
		if live >= proj.Config.MaxSessions {
			return nil, fmt.Errorf("project %s at session limit %d: %w",
				projectID, proj.Config.MaxSessions, domain.ErrConflict)
		}
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:             sessionID,
		ProjectID:      projectID,
		ConnectionTime: now,
		LastHeartbeat:  now,
		Status:         session.StatusActive,
		Capabilities:   caps,
	}
	if err := s.broker.SaveSession(ctx, projectID, sess); err != nil {
		return nil, err
	}

	s.log.Info("session created", "project_id", projectID, "session_id", sessionID)
	return sess, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, projectID, sessionID string) (*session.Session, error) {
	return s.broker.GetSession(ctx, projectID, sessionID)
}

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, projectID string, f brokerstore.SessionFilter) ([]session.Session, error) {
	return s.broker.ListSessions(ctx, projectID, f)
}

// Heartbeat records liveness. A stale session returns to active; a
// disconnected session cannot come back and must re-register.
func (s *SessionService) Heartbeat(ctx context.Context, projectID, sessionID string) (*session.Session, error) {
	sess, err := s.broker.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Heartbeat(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.broker.SaveSession(ctx, projectID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Disconnect marks the session disconnected. The row and its queue are
// kept: messages may still be routed to and drained from a disconnected
// session until the GC pass removes it for good.
func (s *SessionService) Disconnect(ctx context.Context, projectID, sessionID string) error {
	sess, err := s.broker.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return err
	}
	if err := sess.Transition(session.StatusDisconnected); err != nil {
		return err
	}
	if err := s.broker.SaveSession(ctx, projectID, sess); err != nil {
		return err
	}
	s.log.Info("session disconnected",
		"project_id", projectID, "session_id", sessionID, "queue_size", sess.QueueSize)
	return nil
}

// Drain removes up to limit queued messages for the session, highest
// priority first. Messages whose TTL has elapsed are dropped, not returned.
func (s *SessionService) Drain(ctx context.Context, projectID, sessionID string, limit int) ([]message.Message, int, error) {
	msgs, err := s.broker.Dequeue(ctx, projectID, sessionID, limit)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	expired := 0
	out := msgs[:0]
	for _, m := range msgs {
		if m.ExpiredAt(now) {
			expired++
			continue
		}
		out = append(out, m)
	}
	if expired > 0 {
		s.log.Info("expired messages dropped on drain",
			"project_id", projectID, "session_id", sessionID, "count", expired)
	}
	return out, expired, nil
}

// CheckStale marks active sessions whose heartbeat is older than the stale
// threshold as stale. It returns how many sessions transitioned.
func (s *SessionService) CheckStale(ctx context.Context, projectID string) (int, error) {
	sessions, err := s.broker.ListSessions(ctx, projectID,
		brokerstore.SessionFilter{Status: session.StatusActive})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := 0
	for i := range sessions {
		sess := &sessions[i]
		age := now.Sub(sess.LastHeartbeat)
		if age <= s.cfg.StaleThreshold {
			continue
		}
		if err := sess.Transition(session.StatusStale); err != nil {
			continue
		}
		if err := s.broker.SaveSession(ctx, projectID, sess); err != nil {
			return changed, err
		}
		changed++
		s.log.Info("session went stale",
			"project_id", projectID, "session_id", sess.ID, "age", age)
	}
	return changed, nil
}

// CleanupExpired disconnects any active or stale session whose heartbeat is
// older than the disconnect threshold, in a single pass, and finally removes
// sessions that have already sat disconnected that long, dropping whatever
// is left on their queues. It returns how many sessions it disconnected and
// how many it removed.
func (s *SessionService) CleanupExpired(ctx context.Context, projectID string) (disconnected, removed int, err error) {
	sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{})
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	for i := range sessions {
		sess := &sessions[i]
		if now.Sub(sess.LastHeartbeat) <= s.cfg.DisconnectThreshold {
			continue
		}

		if sess.Live() {
			if err := sess.Transition(session.StatusDisconnected); err != nil {
				continue
			}
			if err := s.broker.SaveSession(ctx, projectID, sess); err != nil {
				return disconnected, removed, err
			}
			disconnected++
			s.log.Warn("session disconnected by heartbeat timeout",
				"project_id", projectID, "session_id", sess.ID,
				"queue_size", sess.QueueSize)
			continue
		}

		if err := s.broker.ClearQueue(ctx, projectID, sess.ID); err != nil {
			return disconnected, removed, err
		}
		if err := s.broker.DeleteSession(ctx, projectID, sess.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return disconnected, removed, err
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("disconnected sessions cleaned up",
			"project_id", projectID, "count", removed)
	}
	return disconnected, removed, nil
}

// RunGC drives CheckStale and CleanupExpired across all projects on the
// configured interval until ctx is cancelled.
func (s *SessionService) RunGC(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			projects, err := s.store.ListProjects(ctx)
			if err != nil {
				s.log.Error("session gc: list projects", "error", err)
				continue
			}
			for _, p := range projects {
				if _, err := s.CheckStale(ctx, p.ID); err != nil {
					s.log.Error("session gc: check stale", "project_id", p.ID, "error", err)
				}
				if _, _, err := s.CleanupExpired(ctx, p.ID); err != nil {
					s.log.Error("session gc: cleanup", "project_id", p.ID, "error", err)
				}
			}
		}
	}
}
