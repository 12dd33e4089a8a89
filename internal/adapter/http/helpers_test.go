package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/AgentMesh/internal/domain"
)

func TestWriteDomainError_StatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDuplicate, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrProtocolMismatch, http.StatusUnprocessableEntity},
		{domain.ErrQueueFull, http.StatusTooManyRequests},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrExpired, http.StatusGone},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, fmt.Errorf("operation: %w", tc.err))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response is not json: %v", err)
			}
			if body.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestWriteDomainError_HidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused"))

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if body.Error != "internal server error" {
		t.Errorf("internal detail leaked: %q", body.Error)
	}
}

func TestWriteDomainError_TrimsValidationSuffix(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("name is required: %w", domain.ErrValidation))

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if body.Error != "name is required" {
		t.Errorf("message = %q, want the sentinel suffix trimmed", body.Error)
	}
}

func TestWriteDomainError_UnauthorizedIsOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("api key for alpha/admin revoked: %w", domain.ErrUnauthorized))

	var body errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "invalid credentials" {
		t.Errorf("401 detail leaked: %q", body.Error)
	}
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"alpha"}`))
	rec := httptest.NewRecorder()
	got, ok := readJSON[payload](rec, req)
	if !ok || got.Name != "alpha" {
		t.Errorf("readJSON = %+v ok=%t", got, ok)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	rec = httptest.NewRecorder()
	if _, ok := readJSON[payload](rec, req); ok {
		t.Error("malformed body accepted")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRequireField(t *testing.T) {
	rec := httptest.NewRecorder()
	if !requireField(rec, "value", "name") {
		t.Error("non-empty field rejected")
	}

	rec = httptest.NewRecorder()
	if requireField(rec, "", "name") {
		t.Error("empty field accepted")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
