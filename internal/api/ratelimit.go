package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Per-client sliding-window rate limiter.
//
// Each remote identity (client IP) keeps the timestamps of its requests
// inside the current window. A request is admitted while fewer than
// `limit` timestamps fall inside the trailing window; otherwise the
// client receives HTTP 429 with a Retry-After header.
//
// A background goroutine drops clients that have been idle for more than
// cleanupIdleDuration to prevent unbounded memory growth from transient
// IPs. Health probes bypass the limiter entirely (routed outside it).

const cleanupIdleDuration = 10 * time.Minute

type clientWindow struct {
	stamps   []time.Time
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimiter holds per-client state.
type RateLimiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	clients map[string]*clientWindow
	now     func() time.Time // swappable for tests
}

// NewRateLimiter allows `limit` requests per `window` per client.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	cw, ok := rl.clients[client]
	if !ok {
		cw = &clientWindow{}
		rl.clients[client] = cw
	}
	rl.mu.Unlock()

	cw.mu.Lock()
	defer cw.mu.Unlock()

	now := rl.now()
	cw.lastSeen = now

	// Drop timestamps that slid out of the window.
	cutoff := now.Add(-rl.window)
	kept := cw.stamps[:0]
	for _, s := range cw.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	cw.stamps = kept

	if len(cw.stamps) < rl.limit {
		cw.stamps = append(cw.stamps, now)
		return true, 0
	}

	// The oldest in-window request decides when capacity frees up.
	retryAfter := cw.stamps[0].Add(rl.window).Sub(now)
	return false, retryAfter
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		allowed, retryAfter := rl.allow(client)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      fmt.Sprintf("%d requests per %s per client", rl.limit, rl.window),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale client windows every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for client, cw := range rl.clients {
			cw.mu.Lock()
			idle := cw.lastSeen.Before(cutoff)
			cw.mu.Unlock()
			if idle {
				delete(rl.clients, client)
			}
		}
		rl.mu.Unlock()
	}
}
