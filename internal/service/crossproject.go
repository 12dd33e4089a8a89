package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
)

// CrossProjectService routes messages across project boundaries. Every send
// passes the admin policy: both projects' consent, the protocol whitelist,
// and the per-minute rate window. Admin identities bypass all three.
type CrossProjectService struct {
	router *RouterService
	policy *AdminPolicy
	log    *slog.Logger
}

// NewCrossProjectService creates a new CrossProjectService.
func NewCrossProjectService(router *RouterService, policy *AdminPolicy, log *slog.Logger) *CrossProjectService {
	return &CrossProjectService{router: router, policy: policy, log: log}
}

// CrossSendRequest is the input for a cross-project send.
type CrossSendRequest struct {
	SenderProject    string          `json:"sender_project"`
	RecipientProject string          `json:"recipient_project"`
	Message          message.Message `json:"message"`
	IsAdmin          bool            `json:"-"`
}

// Send routes one message from a session in the sender project to a session
// in the recipient project.
func (s *CrossProjectService) Send(ctx context.Context, req *CrossSendRequest) (*SendResult, error) {
	if req.SenderProject == req.RecipientProject {
		return s.router.Send(ctx, req.SenderProject, &req.Message)
	}

	allowed, err := s.policy.CanAccess(ctx, req.SenderProject, req.RecipientProject, req.IsAdmin)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("project %s may not address %s: %w",
			req.SenderProject, req.RecipientProject, domain.ErrForbidden)
	}

	allowed, err = s.policy.CanSend(ctx, req.SenderProject, req.RecipientProject, req.Message.ProtocolName, req.IsAdmin)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("protocol %s not permitted from %s to %s: %w",
			req.Message.ProtocolName, req.SenderProject, req.RecipientProject, domain.ErrForbidden)
	}

	if err := s.policy.AllowRate(ctx, req.SenderProject, req.RecipientProject, req.IsAdmin); err != nil {
		return nil, err
	}

	// Sender liveness is checked in its own project; routing happens in
	// the recipient's namespace where the protocol and session live.
	senderSess, err := s.router.broker.GetSession(ctx, req.SenderProject, req.Message.SenderID)
	if err != nil {
		return nil, err
	}
	if !senderSess.Live() {
		return nil, fmt.Errorf("sender session %s is disconnected: %w",
			req.Message.SenderID, domain.ErrInvalidState)
	}

	result, err := s.sendIntoRecipient(ctx, req)
	if err != nil {
		return nil, err
	}

	s.log.Info("cross-project message routed",
		"sender_project", req.SenderProject,
		"recipient_project", req.RecipientProject,
		"protocol", req.Message.ProtocolName,
		"outcome", result.Outcome)
	return result, nil
}

// sendIntoRecipient validates and disposes the message inside the recipient
// project's namespace.
func (s *CrossProjectService) sendIntoRecipient(ctx context.Context, req *CrossSendRequest) (*SendResult, error) {
	msg := req.Message
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.RecipientID == "" {
		return nil, fmt.Errorf("recipient_id is required: %w", domain.ErrValidation)
	}

	recipient, err := s.router.broker.GetSession(ctx, req.RecipientProject, msg.RecipientID)
	if err != nil {
		return nil, err
	}

	if err := s.router.checkProtocol(ctx, req.RecipientProject, &msg, recipient); err != nil {
		return nil, err
	}

	s.router.stamp(&msg)
	outcome, queueSize, err := s.router.dispose(ctx, req.RecipientProject, &msg, recipient)
	if err != nil {
		return nil, err
	}

	s.router.count(ctx, req.SenderProject, func(ms *project.MessageStatistics) {
		ms.TotalSent++
		if outcome == OutcomeDelivered {
			ms.TotalDelivered++
		} else {
			ms.TotalQueued++
		}
	})
	return &SendResult{MessageID: msg.ID, Outcome: outcome, QueueSize: queueSize}, nil
}
