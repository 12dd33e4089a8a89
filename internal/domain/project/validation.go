package project

import (
	"fmt"
	"regexp"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

// idPattern matches valid project slugs: lowercase, starts with a letter,
// ends with a letter or digit, underscores allowed inside.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$`)

// reservedIDs are slugs that cannot be claimed by user projects.
var reservedIDs = map[string]bool{
	"admin":    true,
	"owner":    true,
	"api":      true,
	"system":   true,
	"internal": true,
	"broker":   true,
}

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// ValidateID checks that a project slug is well-formed and not reserved.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("project_id %q must match [a-z][a-z0-9_]*[a-z0-9]: %w", id, domain.ErrValidation)
	}
	if reservedIDs[id] {
		return fmt.Errorf("project_id %q is reserved: %w", id, domain.ErrValidation)
	}
	return nil
}

// ValidateCreateRequest validates the fields of a project creation request.
func ValidateCreateRequest(req CreateRequest) error {
	if err := ValidateID(req.ID); err != nil {
		return err
	}
	if req.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(req.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters: %w", maxNameLen, domain.ErrValidation)
	}
	if len(req.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters: %w", maxDescriptionLen, domain.ErrValidation)
	}
	return nil
}

// ValidateUpdateRequest validates the fields of a project update request.
func ValidateUpdateRequest(req UpdateRequest) error {
	if req.Name != nil {
		if *req.Name == "" {
			return fmt.Errorf("name cannot be empty: %w", domain.ErrValidation)
		}
		if len(*req.Name) > maxNameLen {
			return fmt.Errorf("name exceeds %d characters: %w", maxNameLen, domain.ErrValidation)
		}
	}
	if req.Description != nil && len(*req.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters: %w", maxDescriptionLen, domain.ErrValidation)
	}
	if req.Status != nil && *req.Status != StatusActive && *req.Status != StatusInactive {
		return fmt.Errorf("status must be active or inactive: %w", domain.ErrValidation)
	}
	return nil
}
