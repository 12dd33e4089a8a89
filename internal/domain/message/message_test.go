package message_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/message"
)

func validMessage() message.Message {
	return message.Message{
		SenderID:        "alice",
		RecipientID:     "bob",
		ProtocolName:    "chat",
		ProtocolVersion: "1.0.0",
		Payload:         json.RawMessage(`{"text":"hello"}`),
	}
}

func TestMessage_Validate(t *testing.T) {
	m := validMessage()
	if err := m.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
}

func TestMessage_Validate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*message.Message)
	}{
		{"missing sender", func(m *message.Message) { m.SenderID = "" }},
		{"missing protocol", func(m *message.Message) { m.ProtocolName = "" }},
		{"missing version", func(m *message.Message) { m.ProtocolVersion = "" }},
		{"empty payload", func(m *message.Message) { m.Payload = nil }},
		{"null payload", func(m *message.Message) { m.Payload = json.RawMessage(`null`) }},
		{"empty object payload", func(m *message.Message) { m.Payload = json.RawMessage(`{}`) }},
		{"invalid json", func(m *message.Message) { m.Payload = json.RawMessage(`{"broken`) }},
		{"bad priority", func(m *message.Message) { m.Headers.Priority = "extreme" }},
		{"negative ttl", func(m *message.Message) { m.Headers.TTLSeconds = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMessage()
			tc.mutate(&m)
			if err := m.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMessage_ExpiredAt(t *testing.T) {
	sent := time.Now().UTC()
	m := validMessage()
	m.Timestamp = sent
	m.Headers.TTLSeconds = 60

	if m.ExpiredAt(sent.Add(59 * time.Second)) {
		t.Error("message should not be expired before the TTL")
	}
	if !m.ExpiredAt(sent.Add(61 * time.Second)) {
		t.Error("message should be expired after the TTL")
	}

	m.Headers.TTLSeconds = 0
	if m.ExpiredAt(sent.Add(24 * time.Hour)) {
		t.Error("zero TTL means no expiry")
	}
}

func TestPriority_Rank(t *testing.T) {
	order := []message.Priority{
		message.PriorityLow,
		message.PriorityNormal,
		message.PriorityHigh,
		message.PriorityUrgent,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("expected %s to rank below %s", order[i-1], order[i])
		}
	}
}

func TestPriority_Valid(t *testing.T) {
	if !message.PriorityUrgent.Valid() {
		t.Error("urgent should be valid")
	}
	if message.Priority("extreme").Valid() {
		t.Error("unknown priority should be invalid")
	}
}
