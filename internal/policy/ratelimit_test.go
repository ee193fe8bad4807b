package policy

import "testing"

func TestRateLimiterAcquireRespectsConcurrencyCap(t *testing.T) {
	rl := NewRateLimiter(0, 0, 2)

	release1, ok := rl.Acquire()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	_, ok = rl.Acquire()
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}
	if _, ok := rl.Acquire(); ok {
		t.Fatal("expected third acquire to be rejected at cap")
	}

	release1()
	if _, ok := rl.Acquire(); !ok {
		t.Fatal("expected acquire to succeed after a release")
	}
}

func TestRateLimiterReleaseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(0, 0, 1)
	release, ok := rl.Acquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	release()
	release()

	if _, ok := rl.Acquire(); !ok {
		t.Fatal("expected acquire to succeed after release, inFlight should not be negative")
	}
}

func TestRateLimiterPerSecondBucketRejectsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0)

	release, ok := rl.Acquire()
	if !ok {
		t.Fatal("expected first token to be available")
	}
	release()

	if _, ok := rl.Acquire(); ok {
		t.Fatal("expected second immediate acquire to exhaust the per-second bucket")
	}
}

func TestRateLimiterZeroRateDisablesBucket(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0)
	for i := 0; i < 10; i++ {
		if _, ok := rl.Acquire(); !ok {
			t.Fatalf("acquire %d: expected unlimited rate/concurrency to always succeed", i)
		}
	}
}
