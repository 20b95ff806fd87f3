// Package ratelimit is a per-IP fixed-window limiter with concurrent
// request caps and temporary bans, adapted and trimmed from the
// teacher's pkg/common/validation/ratelimit.go. It defends the auth
// surface (spec.md §4.H's challenge/setup/login/change-password) from
// brute-forcing beyond what the proof-of-work gate alone stops.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config tunes the limiter's thresholds.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	MaxConcurrent     int
	BanDuration       time.Duration
	CleanupInterval   time.Duration
}

// DefaultConfig is tuned for a handful of legitimate auth attempts per
// minute while still stopping a credential-stuffing loop.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 20,
		RequestsPerHour:   200,
		MaxConcurrent:     5,
		BanDuration:       15 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

type client struct {
	requestsThisMinute int
	requestsThisHour   int
	lastMinute         time.Time
	lastHour           time.Time
	lastRequest        time.Time
	bannedUntil        time.Time
	concurrent         int
}

// Limiter tracks per-IP request counts and enforces Config's thresholds.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	config  Config
	cleanup *time.Ticker
	done    chan struct{}
}

// New builds a Limiter and starts its background cleanup goroutine.
// Call Shutdown when the limiter is no longer needed.
func New(config Config) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		config:  config,
		cleanup: time.NewTicker(config.CleanupInterval),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// CheckLimit records one request from r's client IP and returns an
// error if it should be rejected: banned, too many concurrent, or over
// the per-minute/per-hour thresholds. Callers that allow the request
// must call Release when it completes.
func (l *Limiter) CheckLimit(r *http.Request) error {
	ip := clientIP(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &client{lastMinute: time.Now(), lastHour: time.Now()}
		l.clients[ip] = c
	}

	now := time.Now()
	if now.Before(c.bannedUntil) {
		return fmt.Errorf("temporarily banned")
	}

	if now.Sub(c.lastMinute) >= time.Minute {
		c.requestsThisMinute = 0
		c.lastMinute = now
	}
	if now.Sub(c.lastHour) >= time.Hour {
		c.requestsThisHour = 0
		c.lastHour = now
	}

	if c.concurrent >= l.config.MaxConcurrent {
		return fmt.Errorf("too many concurrent requests")
	}
	if c.requestsThisMinute >= l.config.RequestsPerMinute {
		c.requestsThisMinute++
		if c.requestsThisMinute > l.config.RequestsPerMinute*2 {
			c.bannedUntil = now.Add(l.config.BanDuration)
		}
		return fmt.Errorf("rate limit exceeded")
	}
	if c.requestsThisHour >= l.config.RequestsPerHour {
		return fmt.Errorf("rate limit exceeded")
	}

	c.requestsThisMinute++
	c.requestsThisHour++
	c.lastRequest = now
	c.concurrent++
	return nil
}

// Release decrements the concurrent-request count for r's client IP.
func (l *Limiter) Release(r *http.Request) {
	ip := clientIP(r)
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[ip]; ok && c.concurrent > 0 {
		c.concurrent--
	}
}

// Middleware wraps next with a 429 response when CheckLimit rejects
// the request.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := l.CheckLimit(r); err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		defer l.Release(r)
		next(w, r)
	}
}

// Shutdown stops the background cleanup goroutine.
func (l *Limiter) Shutdown() {
	l.cleanup.Stop()
	close(l.done)
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.cleanupOldClients()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) cleanupOldClients() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-2 * time.Hour)
	for ip, c := range l.clients {
		if c.lastRequest.Before(cutoff) && c.concurrent == 0 {
			delete(l.clients, ip)
		}
	}
}

// clientIP extracts the request's originating address, preferring
// X-Forwarded-For / X-Real-IP over RemoteAddr for requests behind a
// proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := strings.TrimSpace(part)
			if ip != "" && net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
