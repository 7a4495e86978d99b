package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is a bounded retry schedule: at most MaxAttempts calls, with
// Backoff(n) slept after the n-th failed attempt (n starting at 0). One
// policy object replaces the ad hoc sleep loops around status writes,
// uploads and image generation.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is
// done. Wrap an error with Permanent to stop retrying immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	op := func() (struct{}, error) {
		return struct{}{}, fn()
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&schedule{fn: p.Backoff}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
	return err
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// schedule adapts the attempt-indexed delay function to the backoff.BackOff
// interface.
type schedule struct {
	fn      func(attempt int) time.Duration
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.fn(s.attempt)
	s.attempt++
	return d
}

func (s *schedule) Reset() {
	s.attempt = 0
}

// StatusWrite retries spreadsheet status updates: 3 attempts, 1s/2s waits.
func StatusWrite() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return (1 << attempt) * time.Second
		},
	}
}

// Upload retries file store uploads on transient failures: 3 attempts,
// 10s/20s waits.
func Upload() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(10*(attempt+1)) * time.Second
		},
	}
}

// ImageGen retries quota-limited image calls: 3 attempts, 30s/60s waits
// (120s would follow a third failure, but the budget ends there).
func ImageGen() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(30<<attempt) * time.Second
		},
	}
}
