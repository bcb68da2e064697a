package hnclient

import (
	"context"
	"errors"
	"time"
)

// LinearRetryPolicy retries transient fetch failures with linear backoff.
type LinearRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// NewLinearRetryPolicy builds a policy. maxRetries counts retries after
// the first attempt; baseDelay scales linearly with the attempt number.
func NewLinearRetryPolicy(maxRetries int, baseDelay time.Duration) *LinearRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return &LinearRetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// ShouldRetry decides whether the error is retryable. Per-attempt
// deadline expiries are retryable; cancellation of the surrounding run
// is not.
func (p *LinearRetryPolicy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait duration before the next attempt.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	return p.baseDelay * time.Duration(attempt+1)
}

// Sleep waits out the backoff for the given attempt, returning early if
// the context finishes.
func (p *LinearRetryPolicy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
