// Package middleware provides HTTP middleware for AgentMesh.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/Strob0t/AgentMesh/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLen caps client-supplied IDs; anything longer is replaced.
const maxRequestIDLen = 64

// RequestID tags every request with an ID for log correlation. A sane
// client-supplied X-Request-ID is honored, otherwise a fresh one is minted.
// The ID travels in the context and is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = mintRequestID()
		}

		w.Header().Set(headerRequestID, id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

// mintRequestID returns 16 random bytes as a 32-char hex string.
func mintRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
