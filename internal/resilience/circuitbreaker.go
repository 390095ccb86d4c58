// Package resilience provides per-backend health tracking for the governor.
//
// A CircuitBreaker admits or denies attempts against one backend based on its
// recent failure history. Time-based recovery (Open to HalfOpen) is lazy: it is
// evaluated by tick at the top of every public method, using the breaker's
// clock, so reading state may change it.
//
// Only the Closed state evaluates the open-trigger rule. A failure recorded in
// HalfOpen updates the counters but leaves the breaker HalfOpen; this is the
// observed policy and callers depend on its failover timing.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen admits requests to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Probe when the circuit opened after admission.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure count that opens a closed circuit.
	FailureThreshold int `yaml:"failure_threshold"`
	// ErrorRateThreshold is the failures/requests ratio that opens a closed circuit.
	ErrorRateThreshold float64 `yaml:"error_rate_threshold"`
	// RecoveryTimeout is how long the circuit stays open before admitting a probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   5,
		ErrorRateThreshold: 0.5,
		RecoveryTimeout:    30 * time.Second,
	}
}

// CircuitStats is a snapshot of a breaker's counters.
type CircuitStats struct {
	State         string     `json:"state"`
	FailureCount  int        `json:"failure_count"`
	SuccessCount  int        `json:"success_count"`
	TotalRequests int        `json:"total_requests"`
	ErrorRate     float64    `json:"error_rate"`
	OpenedAt      *time.Time `json:"opened_at"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// BreakerOption configures a circuit breaker.
type BreakerOption func(*CircuitBreaker)

// WithClock sets the time source used for recovery timing.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// CircuitBreaker implements the circuit breaker state machine for one backend.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         CircuitState
	failureCount  int
	successCount  int
	totalRequests int
	openedAt      time.Time
	lastFailureAt time.Time
	config        CircuitBreakerConfig
	now           func() time.Time
	onStateChange func(name string, from, to CircuitState)
	pending       []transition
	// notifyMu keeps callback delivery in transition order.
	notifyMu sync.Mutex

	// probe serializes calls made while the circuit is half-open.
	probe *semaphore.Weighted
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.RecoveryTimeout < 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}

	cb := &CircuitBreaker{
		name:   name,
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
		probe:  semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// OnStateChange sets a callback for state transitions. It is called after the
// breaker's lock is released, once per transition and in transition order; it
// must not call back into the same breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// CanAttempt reports whether a request may be sent to the backend.
// An open circuit whose recovery timeout has elapsed flips to half-open here.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.unlock()

	cb.tick(cb.now())
	return cb.state != StateOpen
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.unlock()

	cb.tick(cb.now())
	cb.successCount++
	cb.totalRequests++

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
		cb.failureCount = 0
		cb.openedAt = time.Time{}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.unlock()

	now := cb.now()
	cb.tick(now)
	cb.failureCount++
	cb.totalRequests++
	cb.lastFailureAt = now

	if cb.state != StateClosed {
		return
	}
	if cb.failureCount >= cb.config.FailureThreshold || cb.errorRate() >= cb.config.ErrorRateThreshold {
		cb.transitionTo(StateOpen)
		cb.openedAt = now
	}
}

// State returns the current circuit state, applying any due recovery transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.unlock()

	cb.tick(cb.now())
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.unlock()

	cb.tick(cb.now())
	stats := CircuitStats{
		State:         cb.state.String(),
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
		ErrorRate:     cb.errorRate(),
	}
	if !cb.openedAt.IsZero() {
		t := cb.openedAt
		stats.OpenedAt = &t
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		stats.LastFailureAt = &t
	}
	return stats
}

// Probe must be called after admission and before the backend call. It fails
// with ErrCircuitOpen if the circuit opened since admission. When the circuit
// is half-open it waits for the backend's single probe permit, so only
// one half-open attempt is in flight; a caller that gets the permit after an
// earlier probe closed the circuit proceeds as a normal closed-state call.
// The returned release func must be called once the result has been recorded.
func (cb *CircuitBreaker) Probe(ctx context.Context) (release func(), err error) {
	switch cb.State() {
	case StateClosed:
		return func() {}, nil
	case StateOpen:
		return nil, fmt.Errorf("backend %s: %w", cb.name, ErrCircuitOpen)
	}

	if err := cb.probe.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for half-open permit: %w", err)
	}
	if cb.State() != StateHalfOpen {
		cb.probe.Release(1)
		return func() {}, nil
	}

	var once sync.Once
	return func() { once.Do(func() { cb.probe.Release(1) }) }, nil
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the breaker configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Reset returns the breaker to its initial closed state with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
	cb.openedAt = time.Time{}
	cb.lastFailureAt = time.Time{}
}

// tick applies the lazy Open to HalfOpen transition. Callers hold mu.
func (cb *CircuitBreaker) tick(now time.Time) {
	if cb.state != StateOpen || cb.openedAt.IsZero() {
		return
	}
	if now.Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.transitionTo(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) errorRate() float64 {
	if cb.totalRequests == 0 {
		return 0
	}
	return float64(cb.failureCount) / float64(cb.totalRequests)
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	cb.pending = append(cb.pending, transition{from: cb.state, to: newState})
	cb.state = newState
}

type transition struct {
	from, to CircuitState
}

// unlock releases mu and delivers the transitions queued while it was held.
func (cb *CircuitBreaker) unlock() {
	if len(cb.pending) == 0 || cb.onStateChange == nil {
		cb.pending = cb.pending[:0]
		cb.mu.Unlock()
		return
	}
	pending := cb.pending
	cb.pending = nil
	fn := cb.onStateChange

	cb.notifyMu.Lock()
	cb.mu.Unlock()
	defer cb.notifyMu.Unlock()
	for _, t := range pending {
		fn(cb.name, t.from, t.to)
	}
}
