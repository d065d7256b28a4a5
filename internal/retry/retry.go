package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxDelay    = time.Second
)

// Policy retries transient persistence failures with capped exponential
// backoff. Attempts counts the first call, so 3 means at most 2 retries.
type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failure is transient. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each retry with the failure that caused it.
	OnRetry func(attempt uint64, err error)
}

func (p Policy) backoff() goretry.Backoff {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	b := goretry.NewExponential(base)
	b = goretry.WithCappedDuration(maxDelay, b)
	b = goretry.WithJitterPercent(10, b)
	return goretry.WithMaxRetries(attempts-1, b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var attempt uint64
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.OnRetry != nil && attempt < p.maxAttempts() {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}

func (p Policy) maxAttempts() uint64 {
	if p.MaxAttempts == 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}
