// Package ws implements the meeting event bus over WebSockets: a
// per-meeting subscriber set with ordered, best-effort broadcast and a
// reconnect protocol that replays state via state_sync.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
)

// sendBuffer is the per-subscriber event buffer. A subscriber that cannot
// drain this many events is dropped (delivery is best-effort to live
// subscribers; late joiners recover via state_sync).
const sendBuffer = 64

// ClientMessage is the envelope for everything a client sends to the hub.
type ClientMessage struct {
	Type         string `json:"type"` // "reconnect", "opinion", "vote"
	MeetingID    string `json:"meeting_id"`
	AgentID      string `json:"agent_id"`
	Content      string `json:"content,omitempty"`
	LastSequence int64  `json:"last_sequence,omitempty"`
}

// ReconnectHandler is invoked when a client joins or rejoins a meeting.
// It must emit a state_sync event (and any replay) via the bus.
type ReconnectHandler func(ctx context.Context, meetingID, agentID string, lastSequence int64)

// InboundHandler receives opinion and vote replies from meeting clients.
type InboundHandler func(ctx context.Context, msg ClientMessage)

// subscriber is one live WebSocket attached to a meeting.
type subscriber struct {
	meetingID string
	agentID   string
	send      chan eventbus.Event
	cancel    context.CancelFunc
}

// Hub manages all meeting subscribers and implements eventbus.Bus.
type Hub struct {
	mu        sync.RWMutex
	meetings  map[string]map[*subscriber]struct{}
	reconnect ReconnectHandler
	inbound   InboundHandler
}

// NewHub creates an empty hub. Handlers are attached afterwards because the
// coordinator and the hub are constructed in dependency order.
func NewHub() *Hub {
	return &Hub{meetings: make(map[string]map[*subscriber]struct{})}
}

var _ eventbus.Bus = (*Hub)(nil)

// SetReconnectHandler attaches the state-sync callback.
func (h *Hub) SetReconnectHandler(fn ReconnectHandler) { h.reconnect = fn }

// SetInboundHandler attaches the opinion/vote reply callback.
func (h *Hub) SetInboundHandler(fn InboundHandler) { h.inbound = fn }

// HandleWS upgrades the connection and services one meeting subscriber.
// The first client frame must be a reconnect message naming the meeting
// and agent.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var hello ClientMessage
	if _, data, err := ws.Read(ctx); err != nil || json.Unmarshal(data, &hello) != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "expected reconnect frame")
		return
	}
	if hello.Type != "reconnect" || hello.MeetingID == "" || hello.AgentID == "" {
		_ = ws.Close(websocket.StatusPolicyViolation, "expected reconnect frame")
		return
	}

	sub := &subscriber{
		meetingID: hello.MeetingID,
		agentID:   hello.AgentID,
		send:      make(chan eventbus.Event, sendBuffer),
		cancel:    cancel,
	}
	h.add(sub)
	defer h.remove(sub)

	slog.Info("meeting subscriber connected",
		"meeting_id", hello.MeetingID, "agent_id", hello.AgentID, "remote", r.RemoteAddr)

	// Writer: serializes events so each subscriber observes publication order.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-sub.send:
				data, err := json.Marshal(evt)
				if err != nil {
					slog.Error("marshal meeting event", "type", evt.Type, "error", err)
					continue
				}
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	if h.reconnect != nil {
		h.reconnect(ctx, hello.MeetingID, hello.AgentID, hello.LastSequence)
	}

	// Read loop: opinion/vote replies and repeat reconnects.
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("discarding malformed client frame", "error", err)
			continue
		}
		msg.MeetingID = sub.meetingID
		msg.AgentID = sub.agentID

		switch msg.Type {
		case "reconnect":
			if h.reconnect != nil {
				h.reconnect(ctx, sub.meetingID, sub.agentID, msg.LastSequence)
			}
		default:
			if h.inbound != nil {
				h.inbound(ctx, msg)
			}
		}
	}
}

// Publish delivers an event to every subscriber of the meeting.
func (h *Hub) Publish(_ context.Context, evt eventbus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.meetings[evt.MeetingID] {
		h.offer(sub, evt)
	}
}

// PublishTo delivers an event to a single agent's subscriptions.
func (h *Hub) PublishTo(_ context.Context, meetingID, agentID string, evt eventbus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.meetings[meetingID] {
		if sub.agentID == agentID {
			h.offer(sub, evt)
		}
	}
}

// offer enqueues without blocking; a subscriber that cannot keep up is cut
// loose and must reconnect for a state_sync.
func (h *Hub) offer(sub *subscriber, evt eventbus.Event) {
	select {
	case sub.send <- evt:
	default:
		slog.Warn("meeting subscriber too slow, disconnecting",
			"meeting_id", sub.meetingID, "agent_id", sub.agentID)
		sub.cancel()
	}
}

// SubscriberCount returns the number of live subscribers for a meeting.
func (h *Hub) SubscriberCount(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}

// add registers the subscriber and announces agent_joined to the meeting's
// existing subscribers. The fan-out happens inline under the lock; Publish
// would re-acquire it.
func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.meetings[sub.meetingID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.meetings[sub.meetingID] = set
	}
	h.announce(set, eventbus.EventAgentJoined, sub)
	set[sub] = struct{}{}
}

// remove drops the subscriber and announces agent_left to the remaining ones.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.meetings[sub.meetingID]
	if _, ok := set[sub]; ok {
		sub.cancel()
		delete(set, sub)
		if len(set) == 0 {
			delete(h.meetings, sub.meetingID)
		} else {
			h.announce(set, eventbus.EventAgentLeft, sub)
		}
		slog.Info("meeting subscriber disconnected",
			"meeting_id", sub.meetingID, "agent_id", sub.agentID)
	}
}

// announce fans a presence event out to the given subscriber set. Callers
// hold h.mu.
func (h *Hub) announce(set map[*subscriber]struct{}, eventType string, about *subscriber) {
	evt := eventbus.Event{
		Type:      eventType,
		MeetingID: about.meetingID,
		AgentID:   about.agentID,
		Timestamp: time.Now().UTC(),
	}
	for sub := range set {
		if sub != about {
			h.offer(sub, evt)
		}
	}
}
