package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Strob0t/AgentMesh/internal/adapter/otel"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/session"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
)

// DeliveryOutcome is how a routed message was disposed of.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered" // recipient active, handed over
	OutcomeQueued    DeliveryOutcome = "queued"    // recipient stale or disconnected, parked
)

// SendResult reports the outcome of a point-to-point send.
type SendResult struct {
	MessageID string          `json:"message_id"`
	Outcome   DeliveryOutcome `json:"outcome"`
	QueueSize int             `json:"queue_size,omitempty"`
}

// BroadcastResult reports per-recipient outcomes of a broadcast.
type BroadcastResult struct {
	MessageID  string                     `json:"message_id"`
	Recipients map[string]DeliveryOutcome `json:"recipients"`
	Skipped    []string                   `json:"skipped,omitempty"` // capability filter misses
}

// RouterService routes messages between sessions within a project. It
// enforces the full send contract: envelope validation, sender liveness,
// recipient resolution, protocol agreement, and schema conformance.
type RouterService struct {
	broker  brokerstore.Store
	metrics *otel.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	stats map[string]*project.MessageStatistics
}

// NewRouterService creates a new RouterService. metrics may be nil when
// telemetry is disabled.
func NewRouterService(broker brokerstore.Store, metrics *otel.Metrics, log *slog.Logger) *RouterService {
	return &RouterService{
		broker:  broker,
		metrics: metrics,
		log:     log,
		stats:   make(map[string]*project.MessageStatistics),
	}
}

// Send routes one point-to-point message inside projectID.
func (s *RouterService) Send(ctx context.Context, projectID string, msg *message.Message) (*SendResult, error) {
	if err := msg.Validate(); err != nil {
		s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalFailed++ })
		return nil, err
	}
	if msg.RecipientID == "" {
		return nil, fmt.Errorf("recipient_id is required for point-to-point send: %w", domain.ErrValidation)
	}

	sender, err := s.broker.GetSession(ctx, projectID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if !sender.Live() {
		return nil, fmt.Errorf("sender session %s is disconnected: %w", msg.SenderID, domain.ErrInvalidState)
	}

	recipient, err := s.broker.GetSession(ctx, projectID, msg.RecipientID)
	if err != nil {
		s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalFailed++ })
		return nil, err
	}

	if err := s.checkProtocol(ctx, projectID, msg, recipient); err != nil {
		s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalFailed++ })
		return nil, err
	}

	s.stamp(msg)
	outcome, queueSize, err := s.dispose(ctx, projectID, msg, recipient)
	if err != nil {
		s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalFailed++ })
		return nil, err
	}

	s.count(ctx, projectID, func(ms *project.MessageStatistics) {
		ms.TotalSent++
		if outcome == OutcomeDelivered {
			ms.TotalDelivered++
		} else {
			ms.TotalQueued++
		}
	})
	if s.metrics != nil {
		s.metrics.MessagesSent.Add(ctx, 1)
	}
	return &SendResult{MessageID: msg.ID, Outcome: outcome, QueueSize: queueSize}, nil
}

// Broadcast routes a message to every live session in the project except
// the sender. A capability filter restricts delivery to sessions carrying
// every listed feature.
func (s *RouterService) Broadcast(ctx context.Context, projectID string, msg *message.Message, capabilityFilter []string) (*BroadcastResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	msg.RecipientID = ""

	sender, err := s.broker.GetSession(ctx, projectID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if !sender.Live() {
		return nil, fmt.Errorf("sender session %s is disconnected: %w", msg.SenderID, domain.ErrInvalidState)
	}

	proto, err := s.broker.GetProtocol(ctx, projectID, msg.ProtocolName, msg.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	if err := s.checkPayload(proto.MessageSchema, msg); err != nil {
		return nil, err
	}

	sessions, err := s.broker.ListSessions(ctx, projectID, brokerstore.SessionFilter{})
	if err != nil {
		return nil, err
	}

	s.stamp(msg)
	result := &BroadcastResult{
		MessageID:  msg.ID,
		Recipients: make(map[string]DeliveryOutcome),
	}

	for i := range sessions {
		recipient := &sessions[i]
		if recipient.ID == msg.SenderID || !recipient.Live() {
			continue
		}
		if !recipient.Capabilities.Speaks(msg.ProtocolName, msg.ProtocolVersion) {
			result.Skipped = append(result.Skipped, recipient.ID)
			continue
		}
		if len(capabilityFilter) > 0 && !recipient.Capabilities.HasFeatures(capabilityFilter) {
			result.Skipped = append(result.Skipped, recipient.ID)
			continue
		}

		copied := *msg
		copied.RecipientID = recipient.ID
		outcome, _, err := s.dispose(ctx, projectID, &copied, recipient)
		if err != nil {
			s.log.Warn("broadcast delivery failed",
				"project_id", projectID, "recipient", recipient.ID, "error", err)
			s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalFailed++ })
			continue
		}
		result.Recipients[recipient.ID] = outcome
	}

	s.count(ctx, projectID, func(ms *project.MessageStatistics) {
		ms.TotalBroadcast++
		ms.TotalSent += int64(len(result.Recipients))
		for _, o := range result.Recipients {
			if o == OutcomeDelivered {
				ms.TotalDelivered++
			} else {
				ms.TotalQueued++
			}
		}
	})
	if s.metrics != nil {
		s.metrics.MessagesSent.Add(ctx, int64(len(result.Recipients)))
	}
	return result, nil
}

// Statistics returns a snapshot of the project's routing counters.
func (s *RouterService) Statistics(projectID string) project.MessageStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.stats[projectID]; ok {
		return *ms
	}
	return project.MessageStatistics{}
}

// CountExpired records messages dropped after TTL expiry, reported by the
// session drain path.
func (s *RouterService) CountExpired(ctx context.Context, projectID string, n int) {
	if n <= 0 {
		return
	}
	s.count(ctx, projectID, func(ms *project.MessageStatistics) { ms.TotalExpired += int64(n) })
	if s.metrics != nil {
		s.metrics.MessagesExpired.Add(ctx, int64(n))
	}
}

// checkProtocol verifies the protocol is registered, the recipient speaks
// the exact version, and the payload conforms to the registered schema.
func (s *RouterService) checkProtocol(ctx context.Context, projectID string, msg *message.Message, recipient *session.Session) error {
	proto, err := s.broker.GetProtocol(ctx, projectID, msg.ProtocolName, msg.ProtocolVersion)
	if err != nil {
		return err
	}
	if !recipient.Capabilities.Speaks(msg.ProtocolName, msg.ProtocolVersion) {
		return fmt.Errorf("session %s does not speak %s@%s: %w",
			recipient.ID, msg.ProtocolName, msg.ProtocolVersion, domain.ErrProtocolMismatch)
	}
	return s.checkPayload(proto.MessageSchema, msg)
}

// checkPayload validates the message payload against the protocol schema.
func (s *RouterService) checkPayload(schema []byte, msg *message.Message) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(msg.Payload))
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Errorf("payload invalid at %s: %s: %w",
			first.Field(), first.Description(), domain.ErrValidation)
	}
	return nil
}

// stamp assigns identity and defaults before delivery.
func (s *RouterService) stamp(msg *message.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Headers.Priority == "" {
		msg.Headers.Priority = message.PriorityNormal
	}
}

// dispose hands the message to an active recipient or parks it on the
// queue of a stale or disconnected one. Disconnected rows keep accepting
// messages until the session GC deletes them.
func (s *RouterService) dispose(ctx context.Context, projectID string, msg *message.Message, recipient *session.Session) (DeliveryOutcome, int, error) {
	if recipient.Status == session.StatusActive {
		now := time.Now().UTC()
		msg.DeliveredAt = &now
		size, err := s.broker.Enqueue(ctx, projectID, recipient.ID, msg)
		if err != nil {
			return "", 0, err
		}
		if s.metrics != nil {
			s.metrics.MessagesDelivered.Add(ctx, 1)
		}
		return OutcomeDelivered, size, nil
	}

	size, err := s.broker.Enqueue(ctx, projectID, recipient.ID, msg)
	if err != nil {
		return "", 0, err
	}
	if s.metrics != nil {
		s.metrics.MessagesQueued.Add(ctx, 1)
	}
	return OutcomeQueued, size, nil
}

// count applies a mutation to the project's counters and stamps activity.
func (s *RouterService) count(ctx context.Context, projectID string, fn func(*project.MessageStatistics)) {
	s.mu.Lock()
	ms, ok := s.stats[projectID]
	if !ok {
		ms = &project.MessageStatistics{}
		s.stats[projectID] = ms
	}
	fn(ms)
	ms.LastActivity = time.Now().UTC()
	s.mu.Unlock()
}
