package api //nolint:revive // package name is intentional

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// IdempotencyKeyHeader carries the client-chosen request key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader is set on responses served from the replay cache.
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

type storedResponse struct {
	status      int
	contentType string
	body        []byte
}

// IdempotencyCache replays successful responses for a repeated
// Idempotency-Key within a window. Concurrent requests with the same key are
// serialized so only one of them reaches the governor.
type IdempotencyCache struct {
	responses *cache.Cache

	mu       sync.Mutex
	inflight map[string]*keyLock
}

// keyLock is shared by every request holding or waiting on one key. refs is
// guarded by IdempotencyCache.mu.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewIdempotencyCache creates a cache keeping responses for window.
func NewIdempotencyCache(window time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		responses: cache.New(window, window*2),
		inflight:  make(map[string]*keyLock),
	}
}

// Len returns the number of stored responses.
func (c *IdempotencyCache) Len() int {
	return c.responses.ItemCount()
}

// lock serializes requests for key. The entry is dropped when the last holder
// or waiter releases it.
func (c *IdempotencyCache) lock(key string) func() {
	c.mu.Lock()
	l, ok := c.inflight[key]
	if !ok {
		l = &keyLock{}
		c.inflight[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}
}

func (c *IdempotencyCache) inflightKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Middleware replays a stored 2xx response when the request carries a known
// Idempotency-Key. Failed responses are not stored, so a retry runs again.
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" || len(key) > maxIdempotencyKeyLen {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		unlock := c.lock(key)
		defer unlock()

		if v, found := c.responses.Get(key); found {
			if stored, ok := v.(*storedResponse); ok {
				if stored.contentType != "" {
					w.Header().Set("Content-Type", stored.contentType)
				}
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(stored.status)
				_, _ = w.Write(stored.body)
				return
			}
		}

		rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 200 && rec.status < 300 {
			c.responses.Set(key, &storedResponse{
				status:      rec.status,
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.body.Bytes(),
			}, cache.DefaultExpiration)
		}
	})
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
