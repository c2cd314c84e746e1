package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
)

var rateLimitNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func credentialRequest(credentialID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/currency/balances/x", nil)
	return req.WithContext(context.WithValue(req.Context(), ctxCredentialID, credentialID))
}

func TestRateLimitRejectsAfterCeiling(t *testing.T) {
	now := rateLimitNow
	clock := func() time.Time { return now }
	limiter, err := apikeys.NewMemoryLimiter(100, time.Minute, clock)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	handler := RateLimit(limiter, nil, clock)(okHandler())

	for i := 1; i <= 100; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, credentialRequest("cred-1"))
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, credentialRequest("cred-1"))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Fatalf("expected limit header 100 got %q", got)
	}
	if got := resp.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0 got %q", got)
	}
	if got := resp.Header().Get("X-RateLimit-Reset"); got != "1767355260" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if got := resp.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected retry-after 60 got %q", got)
	}

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, credentialRequest("cred-2"))
	if other.Code != http.StatusOK {
		t.Fatalf("other credential should not share the window, got %d", other.Code)
	}

	now = now.Add(time.Minute)
	after := httptest.NewRecorder()
	handler.ServeHTTP(after, credentialRequest("cred-1"))
	if after.Code != http.StatusOK {
		t.Fatalf("expected reset window to allow, got %d", after.Code)
	}
	if got := after.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Fatalf("expected remaining 99 got %q", got)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (apikeys.Decision, error) {
	return apikeys.Decision{}, errors.New("redis down")
}

func TestRateLimitReportsLimiterFailure(t *testing.T) {
	handler := RateLimit(failingLimiter{}, nil, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, credentialRequest("cred-1"))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRateLimitKeyFallsBack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := rateLimitKey(req); got != "ip:10.0.0.1" {
		t.Fatalf("unexpected key %q", got)
	}
	req = req.WithContext(WithUserID(req.Context(), "user-9"))
	if got := rateLimitKey(req); got != "user:user-9" {
		t.Fatalf("unexpected key %q", got)
	}
}
