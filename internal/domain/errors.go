// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a uniqueness violation (project ID, protocol version).
var ErrDuplicate = errors.New("duplicate")

// ErrValidation indicates the request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates the caller is authenticated but not permitted.
var ErrForbidden = errors.New("forbidden")

// ErrQueueFull indicates a session's message queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// ErrRateLimited indicates a cross-project send exceeded its rate limit.
var ErrRateLimited = errors.New("rate limited")

// ErrProtocolMismatch indicates two sessions share no common protocol version.
var ErrProtocolMismatch = errors.New("protocol mismatch")

// ErrInvalidState indicates an illegal lifecycle transition.
var ErrInvalidState = errors.New("invalid state transition")

// ErrExpired indicates a message TTL elapsed before delivery.
var ErrExpired = errors.New("expired")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")
