// Package middleware provides HTTP middleware for the WebSocket endpoint.
package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/confirmd/confirmd/internal/clock"
)

// maxClients caps the number of tracked addresses so an address-spraying
// client cannot grow the map without bound.
const maxClients = 100000

// RateLimiter applies a per-address token bucket to incoming requests.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    float64 // tokens per second
	burst   int
	clk     clock.Clock
}

type client struct {
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

// NewRateLimiter allows rate requests per second sustained, with the given
// burst headroom.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return NewRateLimiterWithClock(rate, burst, clock.System{})
}

// NewRateLimiterWithClock is NewRateLimiter with an injected time source.
func NewRateLimiterWithClock(rate float64, burst int, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate,
		burst:   burst,
		clk:     clk,
	}
}

// Handler wraps next with the rate limit check.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, allowed := rl.take(clientAddr(r))

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rl.clk.Now().Add(time.Second).Unix()))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take consumes one token for addr, reporting the remaining tokens and, on
// rejection, how many seconds until the next token.
func (rl *RateLimiter) take(addr string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clk.Now()
	c, ok := rl.clients[addr]
	if !ok {
		if len(rl.clients) >= maxClients {
			return 0, 1.0 / rl.rate, false
		}
		rl.clients[addr] = &client{
			tokens:   float64(rl.burst) - 1,
			refilled: now,
			lastSeen: now,
		}
		return rl.burst - 1, 0, true
	}

	c.tokens = math.Min(
		float64(rl.burst),
		c.tokens+now.Sub(c.refilled).Seconds()*rl.rate,
	)
	c.refilled = now
	c.lastSeen = now

	if c.tokens < 1 {
		return 0, (1 - c.tokens) / rl.rate, false
	}
	c.tokens--
	return int(c.tokens), 0, true
}

// StartCleanup evicts addresses idle longer than maxIdle on each interval
// tick. The returned func stops the sweep.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.clk.Now().Add(-maxIdle)
	for addr, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Len reports the number of tracked addresses.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientAddr uses RemoteAddr only. Forwarding headers are spoofable and
// would let a client dodge the limit.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
