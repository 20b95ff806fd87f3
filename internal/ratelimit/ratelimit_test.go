package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckLimitEnforcesPerMinuteThreshold(t *testing.T) {
	l := New(Config{RequestsPerMinute: 2, RequestsPerHour: 100, MaxConcurrent: 10, BanDuration: time.Minute, CleanupInterval: time.Hour})
	defer l.Shutdown()

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.1:5555"

	if err := l.CheckLimit(req); err != nil {
		t.Fatalf("first request should be allowed: %v", err)
	}
	l.Release(req)
	if err := l.CheckLimit(req); err != nil {
		t.Fatalf("second request should be allowed: %v", err)
	}
	l.Release(req)
	if err := l.CheckLimit(req); err == nil {
		t.Fatal("third request should be rate limited")
	}
}

func TestCheckLimitTracksClientsSeparately(t *testing.T) {
	l := New(DefaultConfig())
	defer l.Shutdown()

	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "198.51.100.1:1"
	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "198.51.100.2:1"

	if err := l.CheckLimit(a); err != nil {
		t.Fatalf("client a should be allowed: %v", err)
	}
	if err := l.CheckLimit(b); err != nil {
		t.Fatalf("client b should be unaffected by a's usage: %v", err)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP = %q, want 203.0.113.9", got)
	}
}
