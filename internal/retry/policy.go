// Package retry holds the backoff policy applied to retryable build
// failures (version-locked contention, transient queue errors).
package retry

import "time"

// Policy encapsulates retry/backoff settings. Immutable after construction.
type Policy struct {
	Initial    time.Duration // fixed delay between attempts
	MaxRetries int           // maximum retry attempts after the first failure
}

// DefaultPolicy returns the queue default: fixed 30s delay, 3 retries.
// Mirrors the bounded fixed-backoff retry the job queue applies to
// version-locked builds.
func DefaultPolicy() Policy {
	return Policy{Initial: 30 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values
// fall back to defaults.
func NewPolicy(initial time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if initial > 0 {
		p.Initial = initial
	}
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt (1-based).
// The policy is deliberately fixed rather than exponential: the lock that
// triggers retries is held for roughly one build, so growing the delay
// only postpones the re-attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.Initial
}

// ShouldRetry reports whether another attempt is allowed after `attempt`
// failed tries.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}
