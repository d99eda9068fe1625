package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 800 * time.Millisecond
	DefaultMultiplier     = 2.0
)

// Policy describes a bounded exponential backoff. Every call to Do starts
// with a fresh attempt budget.
type Policy struct {
	// MaxAttempts includes the initial attempt. Values below 1 mean 1.
	MaxAttempts int
	// InitialBackoff is the sleep after the first failed attempt.
	InitialBackoff time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64

	// OnRetry, if set, observes every failed attempt that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default returns the gateway-wide policy: 3 attempts, 0.8s, doubling.
func Default() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		Multiplier:     DefaultMultiplier,
	}
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = mult
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the sleep that follows failed attempt n (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := p.exponential()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a Permanent error, the attempt budget
// is exhausted or ctx is done. It reports how many attempts were made and the
// last error (unwrapped from Permanent). Backoff sleeps happen only between
// attempts.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(p.exponential(), uint64(p.attempts()-1)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		return fn(ctx, attempt)
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	return attempt, err
}

// Permanent marks err so that Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
