// Package protocol defines named, versioned message contracts advertised by
// sessions. A protocol's message schema is JSON Schema Draft-07 and is
// validated as a schema at registration time.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// Well-known capability names.
const (
	CapabilityPointToPoint = "point_to_point"
	CapabilityBroadcast    = "broadcast"
)

// Metadata holds descriptive protocol attributes.
type Metadata struct {
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Protocol is a message contract unique per (project, name, version).
type Protocol struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	MessageSchema json.RawMessage `json:"message_schema"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	Metadata      Metadata        `json:"metadata"`
	ProjectID     string          `json:"project_id"`
	RegisteredAt  time.Time       `json:"registered_at"`
}

// ValidationError describes a single schema validation failure in a
// structured form that survives serialization to API clients.
type ValidationError struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema invalid at %s: %s", e.Path, e.Message)
}

// Unwrap ties structured schema failures to the domain validation sentinel.
func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// Validate checks the protocol's identity fields and that MessageSchema is a
// well-formed JSON Schema Draft-07 document.
func (p *Protocol) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("protocol name is required: %w", domain.ErrValidation)
	}
	if p.Version == "" {
		return fmt.Errorf("protocol version is required: %w", domain.ErrValidation)
	}
	if _, ok := ParseVersion(p.Version); !ok {
		return fmt.Errorf("protocol version %q is not semver: %w", p.Version, domain.ErrValidation)
	}
	return ValidateSchema(p.MessageSchema)
}

// ValidateSchema checks that raw is a valid JSON Schema Draft-07 document.
// Compilation errors surface as a structured *ValidationError.
func ValidateSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return &ValidationError{
			Path:       "$",
			Constraint: "required",
			Expected:   "JSON Schema object",
			Actual:     "empty",
			Message:    "message_schema is required",
		}
	}

	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft7
	loader.AutoDetect = false

	if _, err := loader.Compile(gojsonschema.NewBytesLoader(raw)); err != nil {
		return &ValidationError{
			Path:       "$",
			Constraint: "schema",
			Expected:   "valid JSON Schema Draft-07",
			Actual:     "invalid",
			Message:    err.Error(),
		}
	}
	return nil
}

// HasTag reports whether the protocol carries any of the given tags.
// An empty filter matches everything.
func (p *Protocol) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range p.Metadata.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Version is a parsed semantic version.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses "MAJOR.MINOR.PATCH". Missing minor/patch default to 0.
func ParseVersion(s string) (Version, bool) {
	parts := strings.SplitN(s, ".", 3)
	var v Version
	nums := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, false
		}
		*nums[i] = n
	}
	return v, len(parts) > 0
}

// Less orders versions by major, minor, patch.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// HighestShared returns the highest version string present in both lists.
func HighestShared(a, b []string) (string, bool) {
	shared := ""
	var sharedV Version
	for _, va := range a {
		for _, vb := range b {
			if va != vb {
				continue
			}
			v, ok := ParseVersion(va)
			if !ok {
				continue
			}
			if shared == "" || sharedV.Less(v) {
				shared, sharedV = va, v
			}
		}
	}
	return shared, shared != ""
}
