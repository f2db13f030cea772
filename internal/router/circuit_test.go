package router

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, probe time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, probe)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow=true for closed circuit")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Error("expected StateClosed after 2 failures")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow=false for open circuit")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, failures were not consecutive; got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)

	cb.RecordFailure()
	clock.advance(10 * time.Second)

	if cb.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after probe interval, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected the first caller to get the probe")
	}
	if cb.Allow() {
		t.Error("expected a second caller to be held back while probing")
	}
}

func TestCircuitBreaker_HalfOpen_SuccessCloses(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	cb.RecordFailure()
	clock.advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after successful probe, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow=true after recovery")
	}
}

func TestCircuitBreaker_HalfOpen_FailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	clock.advance(time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, 5*time.Second)
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatal("expected StateOpen")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow=true after reset")
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	s := cb.Snapshot()
	if s.State != "open" {
		t.Errorf("expected open, got %s", s.State)
	}
	if s.ConsecutiveFailures != 2 || s.TotalFailures != 2 || s.TotalSuccesses != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if !s.LastFailure.Equal(clock.t) {
		t.Errorf("expected last failure %s, got %s", clock.t, s.LastFailure)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_SelectableDoesNotClaimProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	cb.RecordFailure()
	if cb.Selectable() {
		t.Fatal("expected open circuit not selectable")
	}
	clock.advance(time.Second)

	if !cb.Selectable() || !cb.Selectable() {
		t.Fatal("expected repeated selection in half-open to succeed")
	}
	if !cb.Allow() {
		t.Fatal("expected probe slot still free")
	}
	if cb.Selectable() {
		t.Error("expected not selectable while probing")
	}

	cb.ReleaseProbe()
	if !cb.Allow() {
		t.Error("expected released slot to be claimable again")
	}
}
