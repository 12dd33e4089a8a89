package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/AgentMesh/internal/adapter/ristretto"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// Policy actions.
const (
	ActionAccess = "access"
	ActionSend   = "send"
	ActionManage = "manage"
)

// AdminPolicy answers authorization questions for cross-project traffic and
// project management. Decisions are cached with a TTL and invalidated on
// every permission mutation.
type AdminPolicy struct {
	store database.Store
	cache *ristretto.DecisionCache
	log   *slog.Logger

	// Sliding-window counters for cross-project rate limits, keyed
	// (sender_project, recipient_project).
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewAdminPolicy creates an AdminPolicy with the given decision cache.
func NewAdminPolicy(store database.Store, cache *ristretto.DecisionCache, log *slog.Logger) *AdminPolicy {
	return &AdminPolicy{
		store:   store,
		cache:   cache,
		log:     log,
		windows: make(map[string][]time.Time),
	}
}

// Invalidate clears all cached decisions. Called after any project or
// permission mutation.
func (a *AdminPolicy) Invalidate() {
	a.cache.Clear()
}

func decisionKey(projectID, action, target string) string {
	return projectID + "|" + action + "|" + target
}

// CanAccess reports whether senderProject may address recipientProject at
// all. Same-project traffic and admin keys are always allowed; otherwise
// both projects must consent with allow_cross_project, and a missing
// permission entry is an implicit allow once they do.
func (a *AdminPolicy) CanAccess(ctx context.Context, senderProject, recipientProject string, isAdmin bool) (bool, error) {
	if isAdmin || senderProject == recipientProject {
		return true, nil
	}

	key := decisionKey(senderProject, ActionAccess, recipientProject)
	if allowed, ok := a.cache.Get(key); ok {
		return allowed, nil
	}

	allowed, _, err := a.computeAccess(ctx, senderProject, recipientProject)
	if err != nil {
		return false, err
	}
	a.cache.Set(key, allowed)
	return allowed, nil
}

// computeAccess checks both projects' consent flags and returns the
// sender's permission toward the recipient, if one is configured.
func (a *AdminPolicy) computeAccess(ctx context.Context, senderProject, recipientProject string) (bool, *project.CrossProjectPermission, error) {
	sender, err := a.store.GetProject(ctx, senderProject)
	if err != nil {
		return false, nil, err
	}
	recipient, err := a.store.GetProject(ctx, recipientProject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if !sender.Config.AllowCrossProject || !recipient.Config.AllowCrossProject {
		return false, nil, nil
	}
	return true, sender.Permission(recipientProject), nil
}

// CanSend reports whether senderProject may send protocolName messages to
// recipientProject. On top of the access rules, a configured permission
// whitelists protocols (empty list is a wildcard); no permission at all
// means any protocol once both projects consent.
func (a *AdminPolicy) CanSend(ctx context.Context, senderProject, recipientProject, protocolName string, isAdmin bool) (bool, error) {
	if isAdmin || senderProject == recipientProject {
		return true, nil
	}

	key := decisionKey(senderProject, ActionSend, recipientProject+"|"+protocolName)
	if allowed, ok := a.cache.Get(key); ok {
		return allowed, nil
	}

	access, perm, err := a.computeAccess(ctx, senderProject, recipientProject)
	if err != nil {
		return false, err
	}
	allowed := access
	if access && perm != nil {
		allowed = perm.AllowsProtocol(protocolName)
	}
	a.cache.Set(key, allowed)
	return allowed, nil
}

// CanManage reports whether a key identity may manage the target project.
// Admin keys manage their own project; nobody manages a foreign one.
func (a *AdminPolicy) CanManage(id *KeyIdentity, targetProject string) bool {
	return id.IsAdmin && id.ProjectID == targetProject
}

// AllowRate checks and records one cross-project message against the
// sender's per-minute sliding window toward the recipient. No permission or
// a limit of zero means unlimited. Admin senders bypass the window
// entirely.
func (a *AdminPolicy) AllowRate(ctx context.Context, senderProject, recipientProject string, isAdmin bool) error {
	if isAdmin || senderProject == recipientProject {
		return nil
	}

	sender, err := a.store.GetProject(ctx, senderProject)
	if err != nil {
		return err
	}
	perm := sender.Permission(recipientProject)
	if perm == nil || perm.MessageRateLimit <= 0 {
		return nil
	}

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	key := senderProject + "->" + recipientProject

	a.mu.Lock()
	defer a.mu.Unlock()

	window := a.windows[key]
	live := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) >= perm.MessageRateLimit {
		a.windows[key] = live
		a.log.Warn("cross-project rate limit hit",
			"sender", senderProject, "recipient", recipientProject,
			"limit", perm.MessageRateLimit)
		return fmt.Errorf("rate limit %d/min from %s to %s: %w",
			perm.MessageRateLimit, senderProject, recipientProject, domain.ErrRateLimited)
	}
	a.windows[key] = append(live, now)
	return nil
}

// GrantPermission adds or replaces a cross-project permission on the sender
// project and invalidates cached decisions.
func (a *AdminPolicy) GrantPermission(ctx context.Context, senderProject string, perm project.CrossProjectPermission) error {
	if perm.TargetProjectID == "" {
		return fmt.Errorf("target_project_id is required: %w", domain.ErrValidation)
	}
	if perm.TargetProjectID == senderProject {
		return fmt.Errorf("cannot grant a permission to self: %w", domain.ErrValidation)
	}
	if perm.MessageRateLimit < 0 {
		return fmt.Errorf("message_rate_limit must be >= 0: %w", domain.ErrValidation)
	}
	if _, err := a.store.GetProject(ctx, perm.TargetProjectID); err != nil {
		return err
	}

	p, err := a.store.GetProject(ctx, senderProject)
	if err != nil {
		return err
	}

	replaced := false
	for i := range p.Permissions {
		if p.Permissions[i].TargetProjectID == perm.TargetProjectID {
			p.Permissions[i] = perm
			replaced = true
			break
		}
	}
	if !replaced {
		p.Permissions = append(p.Permissions, perm)
	}
	p.UpdatedAt = time.Now().UTC()

	if err := a.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	a.Invalidate()
	a.log.Info("cross-project permission granted",
		"sender", senderProject, "target", perm.TargetProjectID,
		"protocols", perm.AllowedProtocols, "rate_limit", perm.MessageRateLimit)
	return nil
}

// RevokePermission removes the sender's permission toward targetProject.
func (a *AdminPolicy) RevokePermission(ctx context.Context, senderProject, targetProject string) error {
	p, err := a.store.GetProject(ctx, senderProject)
	if err != nil {
		return err
	}

	kept := p.Permissions[:0]
	found := false
	for _, perm := range p.Permissions {
		if perm.TargetProjectID == targetProject {
			found = true
			continue
		}
		kept = append(kept, perm)
	}
	if !found {
		return fmt.Errorf("permission from %s to %s: %w", senderProject, targetProject, domain.ErrNotFound)
	}
	p.Permissions = kept
	p.UpdatedAt = time.Now().UTC()

	if err := a.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	a.Invalidate()
	a.log.Info("cross-project permission revoked", "sender", senderProject, "target", targetProject)
	return nil
}
