package policy

import (
	"sync"
	"time"
)

// RateLimiter is a global token bucket plus a
// concurrency cap. The cap is the maxConcurrent value passed to
// NewRateLimiter (0 disables it); because the channel itself processes
// requests strictly sequentially, any cap of 1 or more is never reached by
// a single channel.
type RateLimiter struct {
	mu sync.Mutex

	perSecondRate float64
	perSecondCap  float64
	perSecondTok  float64

	perMinuteRate float64
	perMinuteCap  float64
	perMinuteTok  float64

	lastRefill time.Time

	maxConcurrent int
	inFlight      int
}

// NewRateLimiter builds a limiter from configured rates. A zero perSecond or
// perMinute disables that bucket (unlimited).
func NewRateLimiter(perSecond, perMinute float64, maxConcurrent int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		perSecondRate: perSecond,
		perSecondCap:  perSecond,
		perSecondTok:  perSecond,
		perMinuteRate: perMinute,
		perMinuteCap:  perMinute,
		perMinuteTok:  perMinute,
		lastRefill:    now,
		maxConcurrent: maxConcurrent,
	}
}

// Acquire attempts to reserve one request slot. It never blocks — a
// rejection should become a policy error. The returned release func must be called exactly once
// when the caller's handler invocation finishes.
func (r *RateLimiter) Acquire() (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillLocked()

	if r.maxConcurrent > 0 && r.inFlight >= r.maxConcurrent {
		return nil, false
	}
	if r.perSecondRate > 0 && r.perSecondTok < 1 {
		return nil, false
	}
	if r.perMinuteRate > 0 && r.perMinuteTok < 1 {
		return nil, false
	}

	if r.perSecondRate > 0 {
		r.perSecondTok--
	}
	if r.perMinuteRate > 0 {
		r.perMinuteTok--
	}
	r.inFlight++

	released := false
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if released {
			return
		}
		released = true
		r.inFlight--
	}, true
}

func (r *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	if r.perSecondRate > 0 {
		r.perSecondTok = minFloat(r.perSecondCap, r.perSecondTok+elapsed*r.perSecondRate)
	}
	if r.perMinuteRate > 0 {
		r.perMinuteTok = minFloat(r.perMinuteCap, r.perMinuteTok+elapsed*(r.perMinuteRate/60))
	}
	r.lastRefill = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
