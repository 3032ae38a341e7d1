// Package retry runs provider calls again after transient failures, waiting
// an exponentially growing, jittered delay between attempts.
//
// Only errors marked with Retryable are retried. Providers decide what is
// transient (timeouts, 429, 5xx); everything else fails fast.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// transient marks an error worth another attempt.
type transient struct{ err error }

func (e *transient) Error() string { return e.err.Error() }
func (e *transient) Unwrap() error { return e.err }

// permanent stops a Retrier even when a RetryIf policy would continue.
type permanent struct{ err error }

func (e *permanent) Error() string { return e.err.Error() }
func (e *permanent) Unwrap() error { return e.err }

// Retryable marks err as transient. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transient{err: err}
}

// Permanent marks err as final. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsRetryable reports whether err, or anything it wraps, was marked Retryable.
func IsRetryable(err error) bool {
	var t *transient
	return errors.As(err, &t)
}

func isPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// strip removes the retry markers so callers see the provider's error.
func strip(err error) error {
	var t *transient
	if errors.As(err, &t) && t == err {
		return t.err
	}
	var p *permanent
	if errors.As(err, &p) && p == err {
		return p.err
	}
	return err
}

// Retrier is immutable and safe for concurrent use.
type Retrier struct {
	attempts int
	initial  time.Duration
	max      time.Duration
	jitter   float64
	onRetry  func(attempt int, err error, delay time.Duration)
}

// Option tunes a Retrier.
type Option func(*Retrier)

// WithMaxAttempts counts the first call too.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithInitialDelay is the wait before the second attempt; it doubles after.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.initial = d
		}
	}
}

// WithMaxDelay caps a single wait.
func WithMaxDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.max = d
		}
	}
}

// WithJitter spreads each wait by ±j of itself. j must be in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		if j >= 0 && j <= 1 {
			r.jitter = j
		}
	}
}

// WithOnRetry is called before every wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New returns a Retrier with 3 attempts starting at 100ms.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		attempts: 3,
		initial:  100 * time.Millisecond,
		max:      30 * time.Second,
		jitter:   0.1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GatewayRetrier is the policy for text-completion providers. Their rate
// limits recover slowly, so the waits are long.
func GatewayRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(8*time.Second),
		WithJitter(0.2),
		WithOnRetry(onRetry),
	)
}

// Do calls op until it succeeds, returns an unmarked error, or attempts run
// out. The returned error has its retry marker removed. If ctx ends while
// waiting, the last error from op is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if isPermanent(err) || !IsRetryable(err) || attempt >= r.attempts {
			return strip(err)
		}

		delay := r.Backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

// Backoff is the wait after the given failed attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := r.initial
	for i := 1; i < attempt && d < r.max; i++ {
		d *= 2
	}
	if d > r.max {
		d = r.max
	}
	if r.jitter > 0 {
		d += time.Duration(float64(d) * r.jitter * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}
