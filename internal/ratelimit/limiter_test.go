package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_BurstThenExhausted(t *testing.T) {
	l := NewLimiter(3, 1, time.Minute)
	defer l.Close()
	now := time.Now()

	for n := 0; n < 3; n++ {
		if !l.TryAcquire("rider-1", now) {
			t.Fatalf("acquire %d should succeed within capacity", n)
		}
	}
	if l.TryAcquire("rider-1", now) {
		t.Fatal("acquire beyond capacity should fail")
	}
}

func TestLimiter_RefillRestoresTokens(t *testing.T) {
	l := NewLimiter(2, 1, time.Minute)
	defer l.Close()
	now := time.Now()

	if !l.TryAcquire("rider-1", now) || !l.TryAcquire("rider-1", now) {
		t.Fatal("initial burst should succeed")
	}
	if l.TryAcquire("rider-1", now) {
		t.Fatal("bucket should be empty")
	}

	// One second at 1 token/s refills exactly one token.
	later := now.Add(time.Second)
	if !l.TryAcquire("rider-1", later) {
		t.Fatal("expected one token after refill")
	}
	if l.TryAcquire("rider-1", later) {
		t.Fatal("only one token should have refilled")
	}
}

func TestLimiter_RefillNeverExceedsCapacity(t *testing.T) {
	l := NewLimiter(2, 1, time.Minute)
	defer l.Close()
	now := time.Now()

	// Drain, then wait far longer than capacity/refill.
	l.TryAcquire("rider-1", now)
	l.TryAcquire("rider-1", now)

	later := now.Add(time.Hour)
	for n := 0; n < 2; n++ {
		if !l.TryAcquire("rider-1", later) {
			t.Fatalf("acquire %d should succeed after long idle", n)
		}
	}
	if l.TryAcquire("rider-1", later) {
		t.Fatal("bucket overflowed its capacity")
	}
}

func TestLimiter_IdentitiesIndependent(t *testing.T) {
	l := NewLimiter(1, 1, time.Minute)
	defer l.Close()
	now := time.Now()

	if !l.TryAcquire("rider-1", now) {
		t.Fatal("rider-1 should acquire")
	}
	if l.TryAcquire("rider-1", now) {
		t.Fatal("rider-1 should be exhausted")
	}
	if !l.TryAcquire("rider-2", now) {
		t.Fatal("rider-2 must not be affected by rider-1's bucket")
	}
}

func TestLimiter_EvictedIdentityStartsFresh(t *testing.T) {
	l := NewLimiter(1, 0.001, 10*time.Millisecond)
	defer l.Close()
	now := time.Now()

	if !l.TryAcquire("rider-1", now) {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire("rider-1", now) {
		t.Fatal("bucket should be exhausted")
	}

	// Wait for the sweeper to evict the idle bucket, then the identity
	// gets a full bucket again.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		_, exists := l.buckets["rider-1"]
		l.mu.Unlock()
		if !exists {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !l.TryAcquire("rider-1", time.Now()) {
		t.Fatal("evicted identity should start over with a full bucket")
	}
}

func TestLimiter_RejectionConvergesAtDoubleRate(t *testing.T) {
	// Requests arriving at twice the refill rate: once the burst is
	// spent, roughly every other request is rejected.
	l := NewLimiter(5, 10, time.Minute)
	defer l.Close()
	start := time.Now()

	const (
		interval = 50 * time.Millisecond // 20 requests/s against 10 tokens/s
		total    = 200                   // 10s of synthetic time
	)
	accepted := 0
	for n := 0; n < total; n++ {
		if l.TryAcquire("rider-1", start.Add(time.Duration(n)*interval)) {
			accepted++
		}
	}

	rejected := total - accepted
	fraction := float64(rejected) / float64(total)
	if fraction < 0.40 || fraction > 0.55 {
		t.Fatalf("rejected fraction %.3f did not converge near 0.5 (accepted %d of %d)", fraction, accepted, total)
	}
	// Acceptances are bounded by the burst plus refill over the window.
	if accepted > 5+10*10+1 {
		t.Fatalf("accepted %d exceeds burst plus refill budget", accepted)
	}
}
