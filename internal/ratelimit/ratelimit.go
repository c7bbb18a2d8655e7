// Package ratelimit provides per-client token bucket rate limiting for the
// proxy's routes, so one caller cannot exhaust the shared upstream quota.
package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/githubfinder/ghproxy/internal/apierror"
	"github.com/githubfinder/ghproxy/internal/config"
	"github.com/githubfinder/ghproxy/internal/metrics"
	"github.com/githubfinder/ghproxy/internal/middleware"
)

const (
	cleanupInterval = time.Minute
	staleAfter      = 3 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client IP and evicts idle buckets in
// the background.
type Limiter struct {
	mu       sync.RWMutex
	clients  map[string]*client
	rate     rate.Limit
	burst    int
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter and starts its cleanup goroutine. Clients are
// keyed by middleware.GetClientIP, so the middleware.ClientIP resolver must
// run first for X-Forwarded-For to be honoured.
func New(cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Stop terminates the background cleanup goroutine. It is safe to call
// more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateConfig applies new limits. Existing buckets are dropped so the new
// limits take effect on the next request.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.clients = make(map[string]*client)
}

// Middleware enforces the limit. Rejected requests get 429 with
// Retry-After and the uniform JSON error body.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := middleware.GetClientIP(r)

		limiter, limit := l.getLimiter(ip)
		if !limiter.Allow() {
			route := middleware.RouteTemplate(r)
			l.logger.Warn("rate limit exceeded",
				"client_ip", ip,
				"route", route,
				"request_id", middleware.GetRequestID(r.Context()),
			)
			metrics.RateLimitHits.WithLabelValues(route).Inc()
			w.Header().Set("Retry-After", retryAfter(limit))
			apierror.WriteJSON(w, http.StatusTooManyRequests, apierror.MsgTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	secs := math.Ceil(1 / float64(limit))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

// getLimiter returns the bucket for ip, creating it on first use, along
// with the rate it was built with.
func (l *Limiter) getLimiter(ip string) (*rate.Limiter, rate.Limit) {
	now := time.Now()

	l.mu.RLock()
	c, ok := l.clients[ip]
	limit := l.rate
	l.mu.RUnlock()

	if ok {
		// lastSeen only needs minute resolution to survive eviction.
		if now.Sub(c.lastSeen) > cleanupInterval {
			l.mu.Lock()
			c.lastSeen = now
			l.mu.Unlock()
		}
		return c.limiter, limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[ip]; ok {
		c.lastSeen = now
		return c.limiter, l.rate
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.clients[ip] = &client{limiter: limiter, lastSeen: now}
	return limiter, l.rate
}

// evictStale removes buckets idle since before cutoff and reports how many
// were removed.
func (l *Limiter) evictStale(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := l.evictStale(now.Add(-staleAfter)); n > 0 {
				l.logger.Debug("evicted idle rate limit buckets", "count", n)
			}
		case <-l.stopCh:
			return
		}
	}
}
