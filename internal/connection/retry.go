package connection

import "time"

// RetryPolicy counts reconnect attempts against a fixed budget.
//
// The delay between attempts is constant. RetryPolicy is not safe for
// concurrent use; the Manager only touches it with its lock held.
type RetryPolicy struct {
	attempts    int
	maxAttempts int
	interval    time.Duration
}

// NewRetryPolicy creates a policy allowing maxAttempts reconnects spaced by interval.
func NewRetryPolicy(maxAttempts int, interval time.Duration) *RetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		interval:    interval,
	}
}

// Next records one more attempt and returns the delay before it.
// Returns false once the budget is spent; the count is left unchanged.
func (p *RetryPolicy) Next() (time.Duration, bool) {
	if p.attempts >= p.maxAttempts {
		return 0, false
	}
	p.attempts++
	return p.interval, true
}

// Reset clears the attempt count. Called on every successful open.
func (p *RetryPolicy) Reset() {
	p.attempts = 0
}

// Attempts returns the number of reconnects scheduled since the last reset.
func (p *RetryPolicy) Attempts() int {
	return p.attempts
}

// MaxAttempts returns the budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Exhausted reports whether another failure would stop reconnection.
func (p *RetryPolicy) Exhausted() bool {
	return p.attempts >= p.maxAttempts
}

// Interval returns the fixed retry delay.
func (p *RetryPolicy) Interval() time.Duration {
	return p.interval
}
