package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

// ClientRateLimiter limits requests per client address.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	limit      rate.Limit
	burst      int
	cleanupTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// RateLimiterConfig contains configuration for the client rate limiter.
type RateLimiterConfig struct {
	RequestsPerMinute int           // Default 60
	Burst             int           // Default 10
	CleanupTTL        time.Duration // TTL for inactive limiters, default 10m
	Logger            *slog.Logger
}

// NewClientRateLimiter creates a limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewClientRateLimiter(cfg RateLimiterConfig) *ClientRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &ClientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:      cfg.Burst,
		cleanupTTL: cfg.CleanupTTL,
		logger:     cfg.Logger,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from client may proceed.
func (l *ClientRateLimiter) Allow(client string) bool {
	return l.getLimiter(client).AllowN(l.now(), 1)
}

// Active returns the number of tracked clients.
func (l *ClientRateLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the cleanup loop.
func (l *ClientRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ClientRateLimiter) getLimiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.lastAccess[client] = l.now()
	return limiter
}

func (l *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *ClientRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for client, last := range l.lastAccess {
		if now.Sub(last) > l.cleanupTTL {
			delete(l.limiters, client)
			delete(l.lastAccess, client)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if !l.Allow(client) {
			l.logger.Info("rate limit exceeded", "client", client, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			status, resp := newErrorResponse(llmerrors.NewRateLimitError("rate limit exceeded"))
			_ = writeJSON(w, status, resp)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
