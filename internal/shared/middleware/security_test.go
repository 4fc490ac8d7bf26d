package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, header := range []string{"X-Frame-Options", "X-Content-Type-Options", "Content-Security-Policy", "Cache-Control"} {
		if rec.Header().Get(header) == "" {
			t.Errorf("Expected %s to be set", header)
		}
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call("10.0.0.1:1000"); code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", code)
	}
	if code := call("10.0.0.1:1001"); code != http.StatusOK {
		t.Fatalf("Expected burst request to pass, got %d", code)
	}
	if code := call("10.0.0.1:1002"); code != http.StatusTooManyRequests {
		t.Fatalf("Expected third request to be limited, got %d", code)
	}

	// A different client has its own bucket
	if code := call("10.0.0.2:1000"); code != http.StatusOK {
		t.Fatalf("Expected other IP to pass, got %d", code)
	}
}

func TestIPRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	now := time.Unix(0, 0)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 1025; i++ {
		limiter.GetLimiter(string(rune('a'+i%26)) + time.Duration(i).String())
	}

	now = now.Add(time.Hour)
	limiter.GetLimiter("fresh")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.visitors) != 1 {
		t.Errorf("Expected idle visitors to be evicted, %d left", len(limiter.visitors))
	}
}
