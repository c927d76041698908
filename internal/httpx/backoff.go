package httpx

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// maxShift caps the exponent so the delay computation cannot overflow.
const maxShift = 30

// Backoff computes exponential delays with optional jitter for opt-in retries.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewBackoff returns a Backoff derived from the retry policy.
func NewBackoff(policy RetryPolicy) *Backoff {
	base, max, jitter := policy.BaseDelay, policy.MaxDelay, policy.Jitter
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max <= 0 {
		max = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		BaseDelay: base,
		MaxDelay:  max,
		Jitter:    math.Min(jitter, 1),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ForAttempt returns the delay before retry number attempt (0-indexed).
func (b *Backoff) ForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	delay := b.BaseDelay << uint(attempt)
	if delay <= 0 || delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return b.jitter(delay)
}

func (b *Backoff) jitter(delay time.Duration) time.Duration {
	if b.Jitter == 0 {
		return delay
	}
	b.mu.Lock()
	r := b.rand.Float64()
	b.mu.Unlock()

	factor := 1 + (r*2-1)*b.Jitter
	return time.Duration(float64(delay) * factor)
}
