package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuthDisabledPassesThrough(t *testing.T) {
	cfg := &authConfig{enabled: false}
	rec := httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/example/x", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestAdminAuthToken(t *testing.T) {
	cfg := &authConfig{adminToken: "sekret", enabled: true}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/example/x", nil)
	req.Header.Set("X-Admin-Token", "sekret")
	adminAuth(okHandler(), cfg).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/example/x", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	adminAuth(okHandler(), cfg).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token code = %d", rec.Code)
	}
}

func TestAdminAuthBasic(t *testing.T) {
	cfg := &authConfig{adminUsername: "admin", adminPassword: "pw", enabled: true}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/example/x", nil)
	req.SetBasicAuth("admin", "pw")
	adminAuth(okHandler(), cfg).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid creds code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/example/x", nil)
	req.SetBasicAuth("admin", "nope")
	adminAuth(okHandler(), cfg).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad creds code = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestRateLimiterEnforcesWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{
		enabled:       true,
		requestsPerIP: 3,
		window:        time.Minute,
	})

	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Error("4th request allowed, want denied")
	}
	// A different IP has its own budget.
	if !limiter.allow("10.0.0.2") {
		t.Error("other ip denied")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 10; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestRateLimitMiddlewareResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute})
	h := rateLimitMiddleware(okHandler(), limiter)

	req := httptest.NewRequest(http.MethodPost, "/example/x", nil)
	req.RemoteAddr = "10.0.0.9:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitMiddlewareForwardedFor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute})
	h := rateLimitMiddleware(okHandler(), limiter)

	mk := func(xff string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/example/x", nil)
		req.RemoteAddr = "127.0.0.1:1"
		req.Header.Set("X-Forwarded-For", xff)
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mk("203.0.113.5, 10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mk("203.0.113.5"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("same forwarded ip code = %d, want 429", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mk("203.0.113.6"))
	if rec.Code != http.StatusOK {
		t.Errorf("different forwarded ip code = %d, want 200", rec.Code)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com", "*.example.org"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://evil.com", false},
		{"https://sub.example.org", true},
		{"https://example.org", true},
		{"https://notexample.org", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
