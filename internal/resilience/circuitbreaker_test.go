package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		cb.RecordFailure(now)
	}
	if cb.Current() != StateClosed {
		t.Fatalf("expected CLOSED before threshold, got %s", cb.Current())
	}

	cb.RecordFailure(now)
	if cb.Current() != StateOpen {
		t.Fatalf("expected OPEN at threshold, got %s", cb.Current())
	}
}

func TestCircuitBreaker_CheckRefusesWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	cb.RecordFailure(now)

	if err := cb.Check(now.Add(30 * time.Second)); err == nil {
		t.Error("expected Check to refuse before resetTimeout elapses")
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	cb.RecordFailure(now)

	if err := cb.Check(now.Add(2 * time.Minute)); err != nil {
		t.Fatalf("expected Check to allow after resetTimeout, got %v", err)
	}
	if cb.Current() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after passage, got %s", cb.Current())
	}
}

func TestCircuitBreaker_SuccessInHalfOpenCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	cb.RecordFailure(now)
	cb.Check(now.Add(2 * time.Minute))

	cb.RecordSuccess()
	if cb.Current() != StateClosed {
		t.Fatalf("expected CLOSED after success in HALF_OPEN, got %s", cb.Current())
	}
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	cb.RecordFailure(now)
	cb.Check(now.Add(2 * time.Minute))

	cb.RecordFailure(now.Add(2 * time.Minute))
	if cb.Current() != StateOpen {
		t.Fatalf("expected OPEN after failure in HALF_OPEN, got %s", cb.Current())
	}
}

func TestManager_PerToolIsolation(t *testing.T) {
	m := NewManager(1, time.Minute)
	now := time.Now()

	m.For("shell_exec").RecordFailure(now)
	if m.For("shell_exec").Current() != StateOpen {
		t.Error("expected shell_exec breaker to be OPEN")
	}
	if m.For("file_read").Current() != StateClosed {
		t.Error("expected file_read breaker to remain CLOSED, isolated from shell_exec")
	}
}
