// Package retry wraps remote calls in a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 300 * time.Millisecond
)

// Policy runs an operation once plus up to MaxRetries retries. The delay
// before retry k is BaseDelay * 2^(k-1), without jitter. Every error is
// retried; validation belongs before the policy is invoked.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// OnRetry, if set, is called after a failed attempt that will be retried.
	// attempt is the 1-based number of the attempt that failed.
	OnRetry func(attempt int, err error)
}

// Default returns the policy with two retries and a 300ms base delay.
func Default() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// IsZero reports whether p was left unset. OnRetry alone does not count
// as configuration.
func (p Policy) IsZero() bool {
	return p.MaxRetries == 0 && p.BaseDelay == 0
}

// Attempts is the total number of calls Do makes before giving up.
func (p Policy) Attempts() int {
	return max(p.MaxRetries, 0) + 1
}

// Do runs fn until it succeeds or the retries are exhausted, in which case
// the last error is returned. Cancelling ctx stops the wait and returns the
// context's error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	retries := max(p.MaxRetries, 0)
	backoff := goretry.WithMaxRetries(uint64(retries), goretry.NewExponential(base))

	attempt := 0
	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt <= retries && p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}
