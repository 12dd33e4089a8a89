package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
	"github.com/Strob0t/AgentMesh/internal/port/messagequeue"
)

// Mirror wraps an eventbus.Bus and republishes every meeting event to the
// queue so external consumers can follow discussions without a WebSocket.
type Mirror struct {
	bus   eventbus.Bus
	queue messagequeue.Queue
}

// NewMirror creates an event mirror around the given bus.
func NewMirror(bus eventbus.Bus, queue messagequeue.Queue) *Mirror {
	return &Mirror{bus: bus, queue: queue}
}

var _ eventbus.Bus = (*Mirror)(nil)

// Publish fans out to WebSocket subscribers, then mirrors to the queue.
// Mirror failures are logged, never surfaced; WS delivery is authoritative.
func (m *Mirror) Publish(ctx context.Context, evt eventbus.Event) {
	m.bus.Publish(ctx, evt)

	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("marshal mirrored event", "type", evt.Type, "error", err)
		return
	}
	subject := messagequeue.MeetingSubject(evt.MeetingID)
	if err := m.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("mirror publish failed", "subject", subject, "error", err)
	}
}

// PublishTo is not mirrored: targeted events (state_sync replies) are
// subscriber-specific.
func (m *Mirror) PublishTo(ctx context.Context, meetingID, agentID string, evt eventbus.Event) {
	m.bus.PublishTo(ctx, meetingID, agentID, evt)
}

// SubscriberCount reports live WebSocket subscribers.
func (m *Mirror) SubscriberCount(meetingID string) int {
	return m.bus.SubscriberCount(meetingID)
}
