package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
)

// NegotiatorService computes capability agreements between sessions.
type NegotiatorService struct {
	broker brokerstore.Store
	policy *AdminPolicy
}

// NewNegotiatorService creates a new NegotiatorService.
func NewNegotiatorService(broker brokerstore.Store, policy *AdminPolicy) *NegotiatorService {
	return &NegotiatorService{broker: broker, policy: policy}
}

// Negotiation is the agreement between two sessions: for every protocol
// both speak, the highest version both support, plus the feature
// intersection.
type Negotiation struct {
	SessionA            string            `json:"session_a"`
	SessionB            string            `json:"session_b"`
	AgreedProtocols     map[string]string `json:"agreed_protocols"` // name -> version
	CommonFeatures      []string          `json:"common_features,omitempty"`
	UnsupportedFeatures []string          `json:"unsupported_features,omitempty"` // features only one side has
	Incompatibilities   []string          `json:"incompatibilities,omitempty"`
	Compatible          bool              `json:"compatible"`
	CrossProject        bool              `json:"cross_project"`
	Suggestion          string            `json:"suggestion,omitempty"`
}

// Negotiate computes the agreement between two sessions in one project.
func (s *NegotiatorService) Negotiate(ctx context.Context, projectID, sessionA, sessionB string) (*Negotiation, error) {
	a, err := s.broker.GetSession(ctx, projectID, sessionA)
	if err != nil {
		return nil, err
	}
	b, err := s.broker.GetSession(ctx, projectID, sessionB)
	if err != nil {
		return nil, err
	}
	return negotiate(a, b), nil
}

// NegotiateCrossProject computes the agreement between sessions in two
// different projects. A pair the policy keeps apart still negotiates to a
// result: incompatible, flagged cross_project, with the boundary named in
// the incompatibilities.
func (s *NegotiatorService) NegotiateCrossProject(ctx context.Context, projectA, sessionA, projectB, sessionB string, isAdmin bool) (*Negotiation, error) {
	allowed, err := s.policy.CanAccess(ctx, projectA, projectB, isAdmin)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return crossProjectDenied(sessionA, sessionB), nil
	}

	a, err := s.broker.GetSession(ctx, projectA, sessionA)
	if err != nil {
		return nil, err
	}
	b, err := s.broker.GetSession(ctx, projectB, sessionB)
	if err != nil {
		return nil, err
	}
	return negotiate(a, b), nil
}

// Matrix holds pairwise negotiation results for a set of live sessions plus
// their per-project grouping.
type Matrix struct {
	Pairs    map[string]*Negotiation `json:"pairs"`
	Projects map[string][]string     `json:"projects"` // project_id -> session IDs
}

// CompatibilityMatrix negotiates every live session pair across the given
// projects. Pairs are keyed "a|b" in sorted order; when the matrix spans
// several projects, keys qualify sessions as "project/session". Pairs that
// cross a project boundary negotiate for real only when allowCrossProject
// is set; otherwise they appear as boundary denials.
func (s *NegotiatorService) CompatibilityMatrix(ctx context.Context, projectIDs []string, allowCrossProject bool) (*Matrix, error) {
	matrix := &Matrix{
		Pairs:    make(map[string]*Negotiation),
		Projects: make(map[string][]string),
	}

	var live []*session.Session
	for _, projectID := range projectIDs {
		if _, ok := matrix.Projects[projectID]; ok {
			continue
		}
		sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{})
		if err != nil {
			return nil, err
		}
		ids := []string{}
		for i := range sessions {
			if !sessions[i].Live() {
				continue
			}
			live = append(live, &sessions[i])
			ids = append(ids, sessions[i].ID)
		}
		sort.Strings(ids)
		matrix.Projects[projectID] = ids
	}

	multi := len(matrix.Projects) > 1
	key := func(sess *session.Session) string {
		if multi {
			return sess.ProjectID + "/" + sess.ID
		}
		return sess.ID
	}
	sort.Slice(live, func(i, j int) bool { return key(live[i]) < key(live[j]) })

	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i], live[j]
			n := negotiate(a, b)
			if a.ProjectID != b.ProjectID && !allowCrossProject {
				n = crossProjectDenied(a.ID, b.ID)
			}
			matrix.Pairs[key(a)+"|"+key(b)] = n
		}
	}
	return matrix, nil
}

// crossProjectDenied is the negotiation result for a pair separated by
// project policy; capability overlap is not even computed.
func crossProjectDenied(sessionA, sessionB string) *Negotiation {
	return &Negotiation{
		SessionA:          sessionA,
		SessionB:          sessionB,
		AgreedProtocols:   map[string]string{},
		CrossProject:      true,
		Incompatibilities: []string{"cross-project negotiation disallowed"},
		Suggestion:        "enable allow_cross_project on both projects to negotiate across the boundary",
	}
}

func negotiate(a, b *session.Session) *Negotiation {
	n := &Negotiation{
		SessionA:        a.ID,
		SessionB:        b.ID,
		AgreedProtocols: make(map[string]string),
	}

	for name, versionsA := range a.Capabilities.SupportedProtocols {
		versionsB, ok := b.Capabilities.SupportedProtocols[name]
		if !ok {
			continue
		}
		if best, ok := protocol.HighestShared(versionsA, versionsB); ok {
			n.AgreedProtocols[name] = best
		}
	}

	setA := a.Capabilities.FeatureSet()
	setB := b.Capabilities.FeatureSet()
	for _, f := range a.Capabilities.SupportedFeatures {
		if setB[f] {
			n.CommonFeatures = append(n.CommonFeatures, f)
		} else {
			n.UnsupportedFeatures = append(n.UnsupportedFeatures, f)
		}
	}
	for _, f := range b.Capabilities.SupportedFeatures {
		if !setA[f] {
			n.UnsupportedFeatures = append(n.UnsupportedFeatures, f)
		}
	}
	sort.Strings(n.CommonFeatures)
	sort.Strings(n.UnsupportedFeatures)

	n.CrossProject = a.ProjectID != b.ProjectID
	n.Compatible = len(n.AgreedProtocols) > 0
	if !n.Compatible {
		n.Incompatibilities = append(n.Incompatibilities, "no common protocol version")
		n.Suggestion = fmt.Sprintf("sessions %s and %s share no protocol; register a protocol version both support",
			a.ID, b.ID)
	}
	return n
}
