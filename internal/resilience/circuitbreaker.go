// Package resilience implements the per-tool circuit breaker and retry
// backoff primitives of §4.11: a hand-rolled domain layer, independent of
// github.com/cenkalti/backoff/v4 (listed in go.mod but not imported;
// internal/llm/openai has its own linear HTTP retry loop).
package resilience

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards a single tool against repeated failures. CLOSED
// accumulates failures; at failureThreshold it trips to OPEN until
// resetTimeout elapses, then allows one trial call in HALF_OPEN.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration

	state           State
	failureCount    int
	nextAttemptTime time.Time
}

// NewCircuitBreaker creates a breaker that trips after failureThreshold
// consecutive failures and stays OPEN for resetTimeout.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// ErrCircuitOpen is returned by Check when the breaker is OPEN and the reset
// timeout has not yet elapsed.
type ErrCircuitOpen struct {
	NextAttemptTime time.Time
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open until %s", e.NextAttemptTime.Format(time.RFC3339))
}

// Check must be called before attempting the guarded operation. It returns
// ErrCircuitOpen if the call should be refused. A passage of resetTimeout
// while OPEN transitions the breaker to HALF_OPEN and allows the call.
func (b *CircuitBreaker) Check(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if now.After(b.nextAttemptTime) {
			b.state = StateHalfOpen
			return nil
		}
		return &ErrCircuitOpen{NextAttemptTime: b.nextAttemptTime}
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN this closes the
// breaker and resets the failure count; in CLOSED it resets the count too
// (a clean success after sporadic failures shouldn't carry a partial tally).
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
}

// RecordFailure reports a failed call at time now. A failure in HALF_OPEN
// re-opens the breaker immediately. A failure in CLOSED increments the
// count and trips to OPEN once failureThreshold is reached.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trip(now)
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.trip(now)
	}
}

// trip moves the breaker to OPEN and schedules the next trial time.
// Caller must hold b.mu.
func (b *CircuitBreaker) trip(now time.Time) {
	b.state = StateOpen
	b.nextAttemptTime = now.Add(b.resetTimeout)
	b.failureCount = b.failureThreshold
}

// Trip forces the breaker directly to OPEN regardless of failureCount,
// for callers (such as an ethics plugin reacting to a detected failure
// loop) that need to short-circuit a tool without waiting for the normal
// failureThreshold to accumulate.
func (b *CircuitBreaker) Trip(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(now)
}

// Current returns the breaker's current state.
func (b *CircuitBreaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Manager tracks one CircuitBreaker per tool name, creating them lazily with
// shared thresholds.
type Manager struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	resetTimeout     time.Duration
}

// NewManager creates a breaker manager. Every tool gets its own breaker,
// all sharing the same failureThreshold/resetTimeout configuration.
func NewManager(failureThreshold int, resetTimeout time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// For returns the breaker for toolName, creating it on first use.
func (m *Manager) For(toolName string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[toolName]
	if !ok {
		cb = NewCircuitBreaker(m.failureThreshold, m.resetTimeout)
		m.breakers[toolName] = cb
	}
	return cb
}
