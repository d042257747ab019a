// Package backoff provides retry delay strategies for the publishing
// pipeline and the randomized spacing used between bulk items.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (0-indexed).
	// Attempt 0 is the first, initial attempt.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^attempt, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^attempt, capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return exponential(e.Base, e.Max, attempt)
}

func exponential(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	// float64 overflow past MaxInt64 turns into a negative Duration.
	if (maxDelay > 0 && d > float64(maxDelay)) || d >= math.MaxInt64 {
		if maxDelay > 0 {
			return maxDelay
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (additive jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter adds uniform jitter on top of the capped
// exponential delay. Delay = min(Base * 2^attempt, Max) + U[0, Jitter).
// The exponential part is never reduced, so the sequence stays
// non-decreasing in expectation and never drops below the exponential floor.
type ExponentialWithJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with additive jitter.
func NewExponentialWithJitter(base, maxDelay, jitter time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay, Jitter: jitter}
}

// Delay returns the capped exponential delay plus a random duration in [0, Jitter).
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := exponential(e.Base, e.Max, attempt)
	if e.Jitter <= 0 {
		return d
	}
	return d + rand.N(e.Jitter) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// RandomRange
// ──────────────────────────────────────────────────

// RandomRange returns a flat uniform delay in [Min, Max) for every
// attempt. It spaces successive items of a bulk publish so the platform
// does not see a burst.
type RandomRange struct {
	Min time.Duration
	Max time.Duration
}

// NewRandomRange creates a flat random delay strategy.
func NewRandomRange(minDelay, maxDelay time.Duration) *RandomRange {
	return &RandomRange{Min: minDelay, Max: maxDelay}
}

// Delay returns a random duration in [Min, Max).
func (r *RandomRange) Delay(_ int) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min) //nolint:gosec // spacing intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// DefaultStrategy returns the retry backoff used by the pipeline:
// 1s doubling per attempt, capped at 5 minutes, plus up to 1s of jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 5*time.Minute, 1*time.Second)
}

// DefaultBulkSpacing returns the 2-5s spacing used between bulk items.
func DefaultBulkSpacing() Strategy {
	return NewRandomRange(2*time.Second, 5*time.Second)
}

// SleepContext blocks for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
