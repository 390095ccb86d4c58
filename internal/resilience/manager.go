package resilience

import (
	"sync"
	"time"
)

// Manager owns one circuit breaker per backend and remembers the order in
// which backends were registered. Selection and failover walk that order.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	order    []string
	config   CircuitBreakerConfig
	opts     []BreakerOption
	onChange func(name string, from, to CircuitState)
}

// ManagerConfig contains configuration for the breaker manager.
type ManagerConfig struct {
	CircuitBreaker CircuitBreakerConfig
	// Clock overrides the breakers' time source when set.
	Clock func() time.Time
	// OnStateChange is installed on every breaker the manager creates.
	OnStateChange func(name string, from, to CircuitState)
}

// NewManager creates a new breaker manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg.CircuitBreaker,
		onChange: cfg.OnStateChange,
	}
	if cfg.Clock != nil {
		m.opts = append(m.opts, WithClock(cfg.Clock))
	}
	return m
}

// Register creates the breaker for name if it does not exist yet and returns it.
func (m *Manager) Register(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok = m.breakers[name]; ok {
		return cb
	}

	cb = NewCircuitBreaker(name, m.config, m.opts...)
	if m.onChange != nil {
		cb.OnStateChange(m.onChange)
	}
	m.breakers[name] = cb
	m.order = append(m.order, name)
	return cb
}

// Get returns the breaker for name.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Names returns backend names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// FirstAvailable returns the first backend, in registration order and not in
// exclude, whose breaker admits an attempt.
func (m *Manager) FirstAvailable(exclude ...string) (string, bool) {
	for _, name := range m.Names() {
		if contains(exclude, name) {
			continue
		}
		if cb, ok := m.Get(name); ok && cb.CanAttempt() {
			return name, true
		}
	}
	return "", false
}

// AnyAvailable reports whether at least one breaker admits an attempt.
func (m *Manager) AnyAvailable() bool {
	_, ok := m.FirstAvailable()
	return ok
}

// Stats returns a snapshot of every breaker.
func (m *Manager) Stats() map[string]CircuitStats {
	names := m.Names()
	stats := make(map[string]CircuitStats, len(names))
	for _, name := range names {
		if cb, ok := m.Get(name); ok {
			stats[name] = cb.Stats()
		}
	}
	return stats
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
