package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/middleware"
)

func limitedHandler(rl *middleware.RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BurstExhaustion(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 3)
	h := limitedHandler(rl)

	for i := 0; i < 3; i++ {
		if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := doRequest(h, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 1)
	h := limitedHandler(rl)

	if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second hit: expected 429, got %d", rec.Code)
	}

	// A different client has its own bucket.
	if rec := doRequest(h, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := middleware.NewRateLimiter(50, 1)
	h := limitedHandler(rl)

	if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	if rec := doRequest(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after refill, got %d", rec.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 1)
	h := limitedHandler(rl)

	doRequest(h, "10.0.0.1:1234")
	doRequest(h, "10.0.0.2:1234")
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", rl.Len())
	}

	stop := rl.StartCleanup(10*time.Millisecond, time.Nanosecond)
	defer stop()

	deadline := time.After(time.Second)
	for rl.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("buckets not cleaned up, %d remain", rl.Len())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
