package resilience

import (
	"testing"
	"time"
)

func TestBackoff_StopsAtMaxAttempts(t *testing.T) {
	b := &Backoff{Initial: time.Second, Multiplier: 2, MaxDelay: time.Minute, Jitter: 0, MaxAttempts: 3}

	for i := 0; i < 3; i++ {
		if _, ok := b.Next(i); !ok {
			t.Fatalf("expected attempt %d to be allowed", i)
		}
	}
	if _, ok := b.Next(3); ok {
		t.Error("expected attempt 3 to stop retries (MaxAttempts=3)")
	}
}

func TestBackoff_ExponentialGrowthNoJitter(t *testing.T) {
	b := &Backoff{Initial: time.Second, Multiplier: 2, MaxDelay: time.Hour, Jitter: 0, MaxAttempts: 5}

	d0, _ := b.Next(0)
	d1, _ := b.Next(1)
	d2, _ := b.Next(2)

	if d0 != time.Second {
		t.Errorf("attempt 0 = %v, want 1s", d0)
	}
	if d1 != 2*time.Second {
		t.Errorf("attempt 1 = %v, want 2s", d1)
	}
	if d2 != 4*time.Second {
		t.Errorf("attempt 2 = %v, want 4s", d2)
	}
}

func TestBackoff_RespectsMaxDelay(t *testing.T) {
	b := &Backoff{Initial: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second, Jitter: 0, MaxAttempts: 10}

	d, _ := b.Next(8) // 2^8 seconds uncapped, must clamp to 5s
	if d != 5*time.Second {
		t.Errorf("expected clamp to MaxDelay (5s), got %v", d)
	}
}

func TestBackoff_JitterWithinBounds(t *testing.T) {
	b := &Backoff{Initial: 10 * time.Second, Multiplier: 1, MaxDelay: time.Minute, Jitter: 0.5, MaxAttempts: 10}

	for i := 0; i < 50; i++ {
		d, ok := b.Next(0)
		if !ok {
			t.Fatal("expected attempt to be allowed")
		}
		lo := 5 * time.Second
		hi := 15 * time.Second
		if d < lo || d > hi {
			t.Errorf("delay %v out of ±50%% jitter bounds [%v, %v]", d, lo, hi)
		}
	}
}
