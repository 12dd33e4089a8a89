package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/adapter/ristretto"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/service"
)

func newPolicy(t *testing.T) (*service.AdminPolicy, *mockStore) {
	t.Helper()
	store := newMockStore()
	cache, err := ristretto.NewDecisionCache(1024, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache failed: %v", err)
	}
	t.Cleanup(cache.Close)
	return service.NewAdminPolicy(store, cache, testLogger()), store
}

func seedProjectPair(t *testing.T, store *mockStore, crossProject bool) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"alpha", "beta"} {
		p := &project.Project{
			ID:     id,
			Config: project.DefaultConfig(),
			Status: project.StatusActive,
		}
		p.Config.AllowCrossProject = crossProject
		if err := store.CreateProject(ctx, p); err != nil {
			t.Fatalf("seed project %s failed: %v", id, err)
		}
	}
}

func TestAdminPolicy_CanAccess_SameProject(t *testing.T) {
	policy, _ := newPolicy(t)

	ok, err := policy.CanAccess(context.Background(), "alpha", "alpha", false)
	if err != nil || !ok {
		t.Errorf("same-project access must always pass, got ok=%t err=%v", ok, err)
	}
}

func TestAdminPolicy_CanAccess(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	// Both projects consent and no whitelist narrows it: implicit allow.
	ok, err := policy.CanAccess(ctx, "alpha", "beta", false)
	if err != nil {
		t.Fatalf("CanAccess failed: %v", err)
	}
	if !ok {
		t.Error("mutual consent without a permission must allow access")
	}

	// A permission whitelists protocols but never revokes access.
	err = policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{
		TargetProjectID:  "beta",
		AllowedProtocols: []string{"chat"},
	})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}
	ok, err = policy.CanAccess(ctx, "alpha", "beta", false)
	if err != nil {
		t.Fatalf("CanAccess failed: %v", err)
	}
	if !ok {
		t.Error("access denied with a permission in place")
	}
}

func TestAdminPolicy_CanAccess_CrossProjectDisabled(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, false)

	ok, err := policy.CanAccess(ctx, "alpha", "beta", false)
	if err != nil {
		t.Fatalf("CanAccess failed: %v", err)
	}
	if ok {
		t.Error("access allowed with allow_cross_project disabled")
	}

	// Admin keys cut through consent flags.
	ok, err = policy.CanAccess(ctx, "alpha", "beta", true)
	if err != nil || !ok {
		t.Errorf("admin access denied, ok=%t err=%v", ok, err)
	}
}

func TestAdminPolicy_CanAccess_RecipientConsentRequired(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	// Flip only the recipient's flag off; sender consent alone is not enough.
	beta, err := store.GetProject(ctx, "beta")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	beta.Config.AllowCrossProject = false
	if err := store.UpdateProject(ctx, beta); err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}

	ok, err := policy.CanAccess(ctx, "alpha", "beta", false)
	if err != nil {
		t.Fatalf("CanAccess failed: %v", err)
	}
	if ok {
		t.Error("access allowed without the recipient's consent")
	}
}

func TestAdminPolicy_CanSend(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	// No permission configured: any protocol flows once both consent.
	ok, err := policy.CanSend(ctx, "alpha", "beta", "audit", false)
	if err != nil || !ok {
		t.Errorf("implicit allow expected without a permission, ok=%t err=%v", ok, err)
	}

	// Granting a whitelist narrows the protocols and invalidates the cache.
	err = policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{
		TargetProjectID:  "beta",
		AllowedProtocols: []string{"chat"},
	})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}

	ok, err = policy.CanSend(ctx, "alpha", "beta", "chat", false)
	if err != nil || !ok {
		t.Errorf("whitelisted protocol denied, ok=%t err=%v", ok, err)
	}
	ok, _ = policy.CanSend(ctx, "alpha", "beta", "audit", false)
	if ok {
		t.Error("protocol outside the whitelist allowed")
	}

	// Admin senders skip the whitelist.
	ok, _ = policy.CanSend(ctx, "alpha", "beta", "audit", true)
	if !ok {
		t.Error("admin sender must bypass the whitelist")
	}

	// Revoking restores the implicit wildcard and invalidates the cache.
	if err := policy.RevokePermission(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("RevokePermission failed: %v", err)
	}
	ok, _ = policy.CanSend(ctx, "alpha", "beta", "audit", false)
	if !ok {
		t.Error("revoking the whitelist should restore the implicit allow")
	}
}

func TestAdminPolicy_CanManage(t *testing.T) {
	policy, _ := newPolicy(t)

	admin := &service.KeyIdentity{ProjectID: "alpha", KeyID: project.KeyIDAdmin, IsAdmin: true}
	worker := &service.KeyIdentity{ProjectID: "alpha", KeyID: "worker"}

	if !policy.CanManage(admin, "alpha") {
		t.Error("admin key must manage its own project")
	}
	if policy.CanManage(admin, "beta") {
		t.Error("admin key must not manage a foreign project")
	}
	if policy.CanManage(worker, "alpha") {
		t.Error("non-admin key must not manage")
	}
}

func TestAdminPolicy_AllowRate(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{
		TargetProjectID:  "beta",
		MessageRateLimit: 3,
	})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := policy.AllowRate(ctx, "alpha", "beta", false); err != nil {
			t.Fatalf("message %d should pass: %v", i+1, err)
		}
	}
	if err := policy.AllowRate(ctx, "alpha", "beta", false); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected rate limited, got %v", err)
	}

	// Admins bypass the window.
	if err := policy.AllowRate(ctx, "alpha", "beta", true); err != nil {
		t.Errorf("admin sender must bypass the limit: %v", err)
	}
	// Same-project traffic is never limited.
	if err := policy.AllowRate(ctx, "alpha", "alpha", false); err != nil {
		t.Errorf("same-project traffic must bypass the limit: %v", err)
	}
}

func TestAdminPolicy_AllowRate_Unlimited(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	err := policy.GrantPermission(ctx, "alpha", project.CrossProjectPermission{TargetProjectID: "beta"})
	if err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}
	for i := 0; i < 200; i++ {
		if err := policy.AllowRate(ctx, "alpha", "beta", false); err != nil {
			t.Fatalf("limit 0 must be unlimited, failed at %d: %v", i, err)
		}
	}
}

func TestAdminPolicy_AllowRate_NoPermission(t *testing.T) {
	policy, store := newPolicy(t)
	seedProjectPair(t, store, true)

	// No permission means no configured limit.
	for i := 0; i < 50; i++ {
		if err := policy.AllowRate(context.Background(), "alpha", "beta", false); err != nil {
			t.Fatalf("no permission must mean unlimited, failed at %d: %v", i, err)
		}
	}
}

func TestAdminPolicy_GrantPermission_Validation(t *testing.T) {
	policy, store := newPolicy(t)
	ctx := context.Background()
	seedProjectPair(t, store, true)

	cases := []struct {
		name string
		perm project.CrossProjectPermission
		want error
	}{
		{"missing target", project.CrossProjectPermission{}, domain.ErrValidation},
		{"self target", project.CrossProjectPermission{TargetProjectID: "alpha"}, domain.ErrValidation},
		{"negative rate", project.CrossProjectPermission{TargetProjectID: "beta", MessageRateLimit: -1}, domain.ErrValidation},
		{"unknown target", project.CrossProjectPermission{TargetProjectID: "ghost"}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := policy.GrantPermission(ctx, "alpha", tc.perm); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAdminPolicy_RevokePermission_Missing(t *testing.T) {
	policy, store := newPolicy(t)
	seedProjectPair(t, store, true)

	err := policy.RevokePermission(context.Background(), "alpha", "beta")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
