package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/spinroom/internal/dependencies/clock"
)

// RateLimitConfig holds per-IP token bucket settings
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// Idle limiters are forgotten after TTL
	TTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
		Burst:             60,
		TTL:               5 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	clock    clock.Clock
	cfg      RateLimitConfig
}

// NewIPRateLimiter creates a new IPRateLimiter
func NewIPRateLimiter(cfg RateLimitConfig, clk clock.Clock) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		clock:    clk,
		cfg:      cfg,
	}
}

// Allow reports whether a request from ip may proceed now
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		perSecond := rate.Limit(float64(rl.cfg.RequestsPerMinute) / 60.0)
		v = &visitor{limiter: rate.NewLimiter(perSecond, rl.cfg.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Cleanup forgets limiters idle for longer than the TTL
func (rl *IPRateLimiter) Cleanup() int {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.cfg.TTL {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every minute until ctx is done
func (rl *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// RejectHandler writes the response for a rate limited request
type RejectHandler func(w http.ResponseWriter, r *http.Request)

// RateLimit creates middleware that rejects requests over the per-IP limit
func RateLimit(rl *IPRateLimiter, reject RejectHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientIP(r)) {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
