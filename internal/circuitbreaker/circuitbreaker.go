// Package circuitbreaker guards calls to an external provider. After a run
// of consecutive failures the circuit opens and calls are refused until a
// reset timeout passes; the next calls then retry the provider (half-open)
// and close the circuit once enough of them succeed.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold         = 5
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// Config tunes a CircuitBreaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
	Now                      func() time.Time
}

type circuit struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker tracks one circuit per key (usually a provider operation).
// It is safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
}

// NewCircuitBreaker creates a CircuitBreaker.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
	}
}

// get assumes cb.mu is held.
func (cb *CircuitBreaker) get(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		cb.circuits[key] = c
	}
	return c
}

// AllowRequest reports whether a call for key may proceed. An open circuit
// whose timeout has passed moves to half-open and allows the call.
func (cb *CircuitBreaker) AllowRequest(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateOpen:
		if cb.cfg.Now().Before(c.openUntil) {
			return false
		}
		c.state = StateHalfOpen
		c.consecutiveSuccesses = 0
		return true
	default:
		return true
	}
}

// RecordFailure records a failed call for key.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(c)
		}
	case StateHalfOpen:
		cb.open(c)
	}
}

// RecordSuccess records a successful call for key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			c.state = StateClosed
			c.consecutiveFailures = 0
			c.consecutiveSuccesses = 0
		}
	}
}

func (cb *CircuitBreaker) open(c *circuit) {
	c.state = StateOpen
	c.openUntil = cb.cfg.Now().Add(cb.cfg.ResetTimeout)
	c.consecutiveSuccesses = 0
}

// Status returns the state and consecutive failure count for key without
// triggering any transition.
func (cb *CircuitBreaker) Status(key string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c, ok := cb.circuits[key]
	if !ok {
		return StateClosed, 0
	}
	return c.state, c.consecutiveFailures
}
