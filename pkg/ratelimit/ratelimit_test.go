package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Minute, Max: 3})
	defer l.Close()

	for i := 0; i < 3; i++ {
		if allowed, _ := l.Allow("10.0.0.1"); !allowed {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
	}
	if allowed, _ := l.Allow("10.0.0.1"); allowed {
		t.Error("request 4 allowed, want rejected")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Minute, Max: 1})
	defer l.Close()

	if allowed, _ := l.Allow("alice"); !allowed {
		t.Fatal("alice's first request rejected")
	}
	if allowed, _ := l.Allow("alice"); allowed {
		t.Error("alice's second request allowed, want rejected")
	}
	if allowed, _ := l.Allow("bob"); !allowed {
		t.Error("bob's first request rejected, want allowed")
	}
}

func TestLimiterRefundRestoresToken(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Hour, Max: 1})
	defer l.Close()

	allowed, refund := l.Allow("10.0.0.1")
	if !allowed {
		t.Fatal("first request rejected")
	}
	refund()

	// The refunded token admits the next request.
	if allowed, _ := l.Allow("10.0.0.1"); !allowed {
		t.Error("request after refund rejected, want allowed")
	}
}

func TestLimiterSize(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Minute, Max: 10})
	defer l.Close()

	l.Allow("a")
	l.Allow("b")
	l.Allow("a")
	if got := l.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr with port", "192.168.1.5:54321", "", "192.168.1.5"},
		{"forwarded single hop", "10.0.0.1:80", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain uses first hop", "10.0.0.1:80", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"forwarded with spaces", "10.0.0.1:80", "  203.0.113.9  ", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Minute, Max: 1})
	defer l.Close()

	var reached int
	h := l.Middleware("api", ClientIP, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.RemoteAddr = "10.0.0.1:4444"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if reached != 1 {
		t.Errorf("handler reached %d times, want 1", reached)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if body := rec.Body.String(); !strings.Contains(body, "RATE_LIMIT_EXCEEDED") {
		t.Errorf("body = %q, want rate limit error code", body)
	}
}

func TestRefundingMiddlewareSkipsSuccesses(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Hour, Max: 1})
	defer l.Close()

	h := l.RefundingMiddleware("auth", ClientIP, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4444"

	// Successful requests never exhaust a one-token budget.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRefundingMiddlewareCountsFailures(t *testing.T) {
	l := New(config.RateLimitProfile{Window: time.Hour, Max: 1})
	defer l.Close()

	h := l.RefundingMiddleware("auth", ClientIP, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4444"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d, want 429", rec.Code)
	}
}
