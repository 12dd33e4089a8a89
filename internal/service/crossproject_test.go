package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/adapter/memory"
	"github.com/Strob0t/AgentMesh/internal/adapter/ristretto"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// newCrossProject seeds two cross-project-enabled projects: alice lives in
// alpha, bob lives in beta, and beta has the chat protocol registered.
func newCrossProject(t *testing.T) (*service.CrossProjectService, *service.AdminPolicy, *memory.Store, *mockStore) {
	t.Helper()
	store := newMockStore()
	cache, err := ristretto.NewDecisionCache(1024, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache failed: %v", err)
	}
	t.Cleanup(cache.Close)
	broker := memory.NewStore(0)
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta"} {
		cfg := project.DefaultConfig()
		cfg.AllowCrossProject = true
		err := store.CreateProject(ctx, &project.Project{ID: id, Config: cfg, Status: project.StatusActive})
		if err != nil {
			t.Fatalf("seed project %s failed: %v", id, err)
		}
	}

	err = broker.SaveProtocol(ctx, "beta", &protocol.Protocol{
		Name: "chat", Version: "1.0.0",
		MessageSchema: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("SaveProtocol failed: %v", err)
	}
	_ = broker.SaveSession(ctx, "alpha", &session.Session{ID: "alice", Status: session.StatusActive})
	_ = broker.SaveSession(ctx, "beta", &session.Session{
		ID: "bob", Status: session.StatusActive,
		Capabilities: session.Capabilities{
			SupportedProtocols: map[string][]string{"chat": {"1.0.0"}},
		},
	})

	policy := service.NewAdminPolicy(store, cache, testLogger())
	router := service.NewRouterService(broker, nil, testLogger())
	return service.NewCrossProjectService(router, policy, testLogger()), policy, broker, store
}

func crossRequest() *service.CrossSendRequest {
	return &service.CrossSendRequest{
		SenderProject:    "alpha",
		RecipientProject: "beta",
		Message: message.Message{
			SenderID:        "alice",
			RecipientID:     "bob",
			ProtocolName:    "chat",
			ProtocolVersion: "1.0.0",
			Payload:         json.RawMessage(`{"text":"hi"}`),
		},
	}
}

func TestCrossProject_Send(t *testing.T) {
	svc, policy, broker, _ := newCrossProject(t)
	ctx := context.Background()

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{TargetProjectID: "beta"})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}

	res, err := svc.Send(ctx, crossRequest())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Outcome != service.OutcomeDelivered {
		t.Errorf("expected delivered, got %s", res.Outcome)
	}

	// The message lands in bob's queue inside beta.
	msgs, err := broker.Dequeue(ctx, "beta", "bob", 0)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message in beta, got %d", len(msgs))
	}
}

func TestCrossProject_Send_ImplicitAllow(t *testing.T) {
	svc, _, _, _ := newCrossProject(t)

	// Both projects consent and no permission narrows anything.
	res, err := svc.Send(context.Background(), crossRequest())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Outcome != service.OutcomeDelivered {
		t.Errorf("expected delivered, got %s", res.Outcome)
	}
}

func TestCrossProject_Send_NoAccess(t *testing.T) {
	svc, _, _, store := newCrossProject(t)
	ctx := context.Background()

	// Withdraw the recipient's consent.
	beta, err := store.GetProject(ctx, "beta")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	beta.Config.AllowCrossProject = false
	if err := store.UpdateProject(ctx, beta); err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}

	_, err = svc.Send(ctx, crossRequest())
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected forbidden without the recipient's consent, got %v", err)
	}

	// Admin senders are exempt from the consent flags.
	req := crossRequest()
	req.IsAdmin = true
	if _, err := svc.Send(ctx, req); err != nil {
		t.Errorf("admin send should bypass consent flags: %v", err)
	}
}

func TestCrossProject_Send_ProtocolNotAllowed(t *testing.T) {
	svc, policy, _, _ := newCrossProject(t)
	ctx := context.Background()

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{
		TargetProjectID:  "beta",
		AllowedProtocols: []string{"audit"},
	})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}

	if _, err := svc.Send(ctx, crossRequest()); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected forbidden for non-whitelisted protocol, got %v", err)
	}
}

func TestCrossProject_Send_RateLimited(t *testing.T) {
	svc, policy, _, _ := newCrossProject(t)
	ctx := context.Background()

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{
		TargetProjectID:  "beta",
		MessageRateLimit: 2,
	})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Send(ctx, crossRequest()); err != nil {
			t.Fatalf("send %d failed: %v", i+1, err)
		}
	}
	if _, err := svc.Send(ctx, crossRequest()); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected rate limited, got %v", err)
	}

	// Admin identities skip the window.
	req := crossRequest()
	req.IsAdmin = true
	if _, err := svc.Send(ctx, req); err != nil {
		t.Errorf("admin send should bypass the rate window: %v", err)
	}
}

func TestCrossProject_Send_SameProjectDelegates(t *testing.T) {
	svc, _, broker, _ := newCrossProject(t)
	ctx := context.Background()

	// No grant exists, but same-project traffic never needs one.
	_ = broker.SaveSession(ctx, "beta", &session.Session{
		ID: "carol", Status: session.StatusActive,
		Capabilities: session.Capabilities{
			SupportedProtocols: map[string][]string{"chat": {"1.0.0"}},
		},
	})
	req := crossRequest()
	req.SenderProject = "beta"
	req.Message.SenderID = "carol"

	res, err := svc.Send(ctx, req)
	if err != nil {
		t.Fatalf("same-project send failed: %v", err)
	}
	if res.Outcome != service.OutcomeDelivered {
		t.Errorf("expected delivered, got %s", res.Outcome)
	}
}

func TestCrossProject_Send_SenderMustBeLive(t *testing.T) {
	svc, policy, broker, _ := newCrossProject(t)
	ctx := context.Background()

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{TargetProjectID: "beta"})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}
	_ = broker.SaveSession(ctx, "alpha", &session.Session{ID: "alice", Status: session.StatusDisconnected})

	if _, err := svc.Send(ctx, crossRequest()); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected invalid state for disconnected sender, got %v", err)
	}
}
