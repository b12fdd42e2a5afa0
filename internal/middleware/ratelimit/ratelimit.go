// Package ratelimit throttles write requests per client with a fixed
// one-minute window.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"zerosum/internal/cache"
)

const window = time.Minute

// Limiter provides rate limiting functionality
type Limiter struct {
	mu      sync.Mutex
	clients *cache.LRUCache[*clientInfo]
	now     func() time.Time
	limited atomic.Int64

	requestsPerMinute int
}

type clientInfo struct {
	start    time.Time
	requests int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// MaxClients bounds the tracked client table; least recently seen clients go first
	MaxClients int
	// IdleTimeout drops clients not seen for this long
	IdleTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		MaxClients:        10000,
		IdleTimeout:       10 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.MaxClients <= 0 {
		config.MaxClients = def.MaxClients
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &Limiter{
		clients:           cache.NewLRUCache[*clientInfo](config.MaxClients, config.IdleTimeout),
		now:               time.Now,
		requestsPerMinute: config.RequestsPerMinute,
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, ok := rl.clients.Get(clientIP)
	if !ok || now.Sub(client.start) >= window {
		rl.clients.Set(clientIP, &clientInfo{start: now, requests: 1})
		return true
	}

	client.requests++
	if client.requests > rl.requestsPerMinute {
		rl.limited.Add(1)
		return false
	}
	return true
}

// retryAfter returns the seconds until clientIP's window resets
func (rl *Limiter) retryAfter(clientIP string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	client, ok := rl.clients.Peek(clientIP)
	if !ok {
		return 1
	}
	secs := int(window-rl.now().Sub(client.start)) / int(time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// CleanExpired drops idle clients. It makes the limiter a cache.Cleaner.
func (rl *Limiter) CleanExpired() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.clients.CleanExpired()
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	Limited     int64
	ClientCount int
}

// GetMetrics returns current rate limiting metrics
func (rl *Limiter) GetMetrics() Metrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return Metrics{
		Limited:     rl.limited.Load(),
		ClientCount: rl.clients.Size(),
	}
}

// Middleware creates HTTP middleware for rate limiting. Reads pass through.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			clientIP := extractIP(r)
			if !rl.Allow(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter(clientIP)))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
