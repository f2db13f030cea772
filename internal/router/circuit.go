package router

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // sends flow
	StateOpen                         // provider skipped during selection
	StateHalfOpen                     // one probe send allowed
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

// CircuitBreaker trips after a run of consecutive failed sends and lets a
// single probe through once the recovery interval has passed.
type CircuitBreaker struct {
	mu  sync.Mutex
	now func() time.Time

	state       CircuitState
	consecutive int
	totalFails  int64
	totalOK     int64
	lastFailure time.Time
	openedAt    time.Time
	probing     bool

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewCircuitBreaker(failureThreshold int, recoveryProbeInterval time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		now:                   time.Now,
		state:                 StateClosed,
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState moves OPEN to HALF_OPEN once the probe interval has elapsed.
// Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.recoveryProbeInterval {
		cb.state = StateHalfOpen
		cb.probing = false
	}
	return cb.state
}

// Allow reports whether a send may go to this provider. In HALF_OPEN only the
// first caller gets through until the probe reports back.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// Selectable reports whether the provider may be picked for a send without
// claiming the half-open probe slot. Claiming happens in Allow, right before
// the vendor call.
func (cb *CircuitBreaker) Selectable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !cb.probing
	default:
		return false
	}
}

// ReleaseProbe gives back a claimed probe slot whose send said nothing about
// provider health.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.currentState() == StateHalfOpen {
		cb.probing = false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalOK++
	cb.consecutive = 0
	if cb.currentState() == StateHalfOpen {
		cb.state = StateClosed
		cb.probing = false
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFails++
	cb.consecutive++
	cb.lastFailure = cb.now()

	switch cb.currentState() {
	case StateClosed:
		if cb.consecutive >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

// trip must be called with mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probing = false
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutive = 0
	cb.probing = false
}

// BreakerSnapshot is a point-in-time view of a breaker for the health endpoint.
type BreakerSnapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		State:               cb.currentState().String(),
		ConsecutiveFailures: cb.consecutive,
		TotalFailures:       cb.totalFails,
		TotalSuccesses:      cb.totalOK,
		LastFailure:         cb.lastFailure,
	}
}
