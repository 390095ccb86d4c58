// Package cache memoizes backend responses by request content.
//
// Entries expire after a fixed TTL. Expiry is checked lazily on Get and swept in
// bulk by Stats; there is no background janitor and no size bound.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the lifetime of a cached response.
const DefaultTTL = time.Hour

// Value is the cached part of a generation result.
type Value struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	Backend      string `json:"backend"`
}

// Entry is a stored Value with its lifetime.
type Entry struct {
	Value
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats reports the cache size after an expiry sweep.
type Stats struct {
	TotalEntries int   `json:"total_entries"`
	TTLSeconds   int   `json:"ttl_seconds"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
}

// Config holds configuration for ResponseCache.
type Config struct {
	TTL time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL}
}

// ResponseCache is a content-addressed response store safe for concurrent use.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a response cache.
func New(cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ResponseCache{
		entries: make(map[string]*Entry),
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

// Get returns the live entry for params. An expired entry is deleted and
// reported as a miss.
func (c *ResponseCache) Get(params KeyParams) (Entry, bool) {
	key := Key(params)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.misses.Add(1)
		return Entry{}, false
	}

	c.hits.Add(1)
	return *entry, true
}

// Set stores or overwrites the response for params.
func (c *ResponseCache) Set(params KeyParams, value Value) {
	key := Key(params)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Stats deletes every expired entry, then reports what remains.
func (c *ResponseCache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	total := len(c.entries)
	c.mu.Unlock()

	return Stats{
		TotalEntries: total,
		TTLSeconds:   int(c.ttl / time.Second),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries and resets hit counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}

// TTL returns the configured entry lifetime.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}
