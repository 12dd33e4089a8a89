package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/protocol"
)

var chatSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`)

func TestProtocol_Validate(t *testing.T) {
	p := protocol.Protocol{Name: "chat", Version: "1.0.0", MessageSchema: chatSchema}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid protocol rejected: %v", err)
	}
}

func TestProtocol_Validate_Errors(t *testing.T) {
	cases := []struct {
		name string
		p    protocol.Protocol
	}{
		{"missing name", protocol.Protocol{Version: "1.0.0", MessageSchema: chatSchema}},
		{"missing version", protocol.Protocol{Name: "chat", MessageSchema: chatSchema}},
		{"bad version", protocol.Protocol{Name: "chat", Version: "one", MessageSchema: chatSchema}},
		{"missing schema", protocol.Protocol{Name: "chat", Version: "1.0.0"}},
		{"schema not an object", protocol.Protocol{Name: "chat", Version: "1.0.0",
			MessageSchema: json.RawMessage(`{"type": 12}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidateSchema_StructuredError(t *testing.T) {
	err := protocol.ValidateSchema(nil)
	var ve *protocol.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Path != "$" {
		t.Errorf("expected path '$', got %q", ve.Path)
	}
}

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in   string
		want protocol.Version
		ok   bool
	}{
		{"1.2.3", protocol.Version{Major: 1, Minor: 2, Patch: 3}, true},
		{"2.0", protocol.Version{Major: 2}, true},
		{"3", protocol.Version{Major: 3}, true},
		{"v1.0.0", protocol.Version{}, false},
		{"1.-2.0", protocol.Version{}, false},
		{"abc", protocol.Version{}, false},
	}
	for _, tc := range cases {
		got, ok := protocol.ParseVersion(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseVersion(%q) = %v, %t; want %v, %t", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHighestShared(t *testing.T) {
	a := []string{"1.0.0", "1.5.0", "2.0.0"}
	b := []string{"1.5.0", "2.0.0", "3.0.0"}

	v, ok := protocol.HighestShared(a, b)
	if !ok || v != "2.0.0" {
		t.Errorf("expected 2.0.0, got %q (ok=%t)", v, ok)
	}

	if _, ok := protocol.HighestShared(a, []string{"4.0.0"}); ok {
		t.Error("expected no shared version")
	}

	if _, ok := protocol.HighestShared(nil, nil); ok {
		t.Error("expected no shared version for empty lists")
	}
}

func TestHasTag(t *testing.T) {
	p := protocol.Protocol{Metadata: protocol.Metadata{Tags: []string{"chat", "v2"}}}

	if !p.HasTag(nil) {
		t.Error("empty filter should match")
	}
	if !p.HasTag([]string{"chat"}) {
		t.Error("expected tag 'chat' to match")
	}
	if p.HasTag([]string{"audit"}) {
		t.Error("tag 'audit' should not match")
	}
}
