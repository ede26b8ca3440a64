// Package retry computes backoff advice for sessions whose execution timed
// out. Timeouts are advisory in this system; the policy tells the caller
// how long to wait before resubmitting, it never retries anything itself.
package retry

import (
	"math"
	"time"
)

// Policy defines retry advice parameters
type Policy struct {
	MaxAttempts int           // Maximum attempts advised (0 = never retry)
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap on the backoff delay
	Multiplier  float64       // Exponential backoff multiplier (e.g. 2.0)
}

// DefaultPolicy returns the default retry advice
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// ShouldRetry reports whether another attempt is advised after the given
// number of completed attempts.
func (p Policy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Delay returns the backoff delay before the given attempt (1-based),
// capped at MaxDelay. Deterministic: no jitter, so tests and callers see
// stable advice.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
