package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. Kite rejects clients that exceed a few
// requests per second per API key.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64

	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// the given burst. The bucket starts full.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	r := &RateLimiter{
		rate:  rate,
		burst: float64(burst),
		now:   time.Now,
	}
	r.tokens = r.burst
	r.lastUpdate = r.now()
	return r
}

// reserve takes a token if one is available, otherwise it reports how long
// until the next one.
func (r *RateLimiter) reserve() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens += now.Sub(r.lastUpdate).Seconds() * r.rate
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.lastUpdate = now

	if r.tokens >= 1 {
		r.tokens--
		return true, 0
	}
	if r.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
}

// Allow reports whether a request may proceed now.
func (r *RateLimiter) Allow() bool {
	ok, _ := r.reserve()
	return ok
}

// Wait blocks until a request may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := r.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
