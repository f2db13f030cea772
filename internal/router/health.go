package router

import (
	"sync"
	"time"

	"github.com/af-corp/sms-gateway/internal/types"
)

// HealthTracker keeps one circuit breaker per provider name.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) GetBreaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[provider] = cb
	return cb
}

// IsSelectable is the side-effect free check used while choosing a provider.
func (ht *HealthTracker) IsSelectable(provider string) bool {
	return ht.GetBreaker(provider).Selectable()
}

// IsAvailable admits one send to provider. In HALF_OPEN it claims the probe
// slot, so every true result must be followed by Record.
func (ht *HealthTracker) IsAvailable(provider string) bool {
	return ht.GetBreaker(provider).Allow()
}

// Record feeds a send outcome into the provider's breaker. Rejected messages
// and caller cancellations say nothing about provider health: they only free
// a claimed probe slot.
func (ht *HealthTracker) Record(provider string, result types.SendingResult) {
	cb := ht.GetBreaker(provider)
	if result.IsSuccess() {
		cb.RecordSuccess()
		return
	}
	switch result.FirstErrorCode() {
	case types.CodeInvalidMessage, types.CodeCanceled:
		cb.ReleaseProbe()
		return
	}
	cb.RecordFailure()
}

// Snapshot returns the state of every breaker seen so far.
func (ht *HealthTracker) Snapshot() map[string]BreakerSnapshot {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]BreakerSnapshot, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.Snapshot()
	}
	return out
}
