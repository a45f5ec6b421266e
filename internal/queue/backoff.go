package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: exponential growth from Base, capped at
// Max, plus a uniform random jitter in [0, Jitter). The exponential growth
// spreads repeated failures apart, the jitter decorrelates jobs that failed
// at the same instant so they do not re-contend for claiming together, and
// the cap bounds worst-case delay so a transient outage does not postpone
// recovery indefinitely.
//
// The zero value is not useful; use DefaultBackoff or fill all fields.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns the standard retry schedule: 5s base, 10m cap,
// 5s jitter window.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   5 * time.Second,
		Max:    10 * time.Minute,
		Jitter: 5 * time.Second,
	}
}

// Delay returns the wait before retry attempt n (1-indexed):
// min(Base * 2^(n-1), Max) + uniform random in [0, Jitter).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if capped := float64(b.Max); b.Max > 0 && base > capped {
		base = capped
	}

	delay := time.Duration(base)
	if b.Jitter > 0 {
		delay += rand.N(b.Jitter)
	}
	return delay
}
