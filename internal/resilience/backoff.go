package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter per §4.11:
//
//	delay(attempt) = min(initial*multiplier^attempt, maxDelay) + uniform(-jitter*delay, +jitter*delay)
//
// Next returns (0, false) once attempt >= maxAttempts, signalling the caller
// to stop retrying.
type Backoff struct {
	Initial     time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction of delay, e.g. 0.2 = ±20%
	MaxAttempts int
}

// NewBackoff returns a Backoff with the teacher's conventional defaults:
// 1s initial, 2x multiplier, 30s cap, 20% jitter, 5 attempts.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:     time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Next returns the delay to wait before retry number attempt (0-indexed) and
// true, or (0, false) once attempt has reached MaxAttempts.
func (b *Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt >= b.MaxAttempts {
		return 0, false
	}

	raw := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if ceiling := float64(b.MaxDelay); raw > ceiling {
		raw = ceiling
	}

	if b.Jitter > 0 {
		spread := raw * b.Jitter
		raw += (rand.Float64()*2 - 1) * spread
		if raw < 0 {
			raw = 0
		}
	}

	return time.Duration(raw), true
}
