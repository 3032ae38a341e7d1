// Package ratelimit is a token bucket that throttles outgoing calls to a
// provider and backs off when the provider reports a rate limit.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN BUCKET
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for a Limiter.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket size.
	Burst int

	// MaxWait is the longest Wait blocks before giving up.
	MaxWait time.Duration

	// Cooldown is the pause after a provider rate-limit response when the
	// provider did not say how long to wait.
	Cooldown time.Duration
}

// DefaultConfig suits a single tutor instance against one provider key.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxWait:           10 * time.Second,
		Cooldown:          20 * time.Second,
	}
}

// ErrWaitTimeout is returned when a token would not be available within MaxWait.
var ErrWaitTimeout = errors.New("ratelimit: wait exceeds limit")

// Limiter is safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	rate     float64
	burst    float64
	tokens   float64
	last     time.Time
	blocked  time.Time
	maxWait  time.Duration
	cooldown time.Duration

	now func() time.Time
}

// New creates a Limiter with a full bucket. A non-positive rate yields a
// Limiter that never blocks.
func New(cfg Config) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultConfig().MaxWait
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	l := &Limiter{
		rate:     cfg.RequestsPerSecond,
		burst:    float64(cfg.Burst),
		tokens:   float64(cfg.Burst),
		maxWait:  cfg.MaxWait,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
	l.last = l.now()
	return l
}

// Wait blocks until a token is available, ctx is done or the wait would
// exceed MaxWait.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rate <= 0 {
		return nil
	}
	deadline := l.now().Add(l.maxWait)

	for {
		delay, ok := l.reserve()
		if ok {
			return nil
		}
		if l.now().Add(delay).After(deadline) {
			return ErrWaitTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow takes a token without blocking.
func (l *Limiter) Allow() bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	_, ok := l.reserve()
	return ok
}

// Penalize empties the bucket and blocks callers for retryAfter, or for the
// configured cooldown when retryAfter is zero.
func (l *Limiter) Penalize(retryAfter time.Duration) {
	if l == nil {
		return
	}
	if retryAfter <= 0 {
		retryAfter = l.cooldown
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.tokens = 0
	l.last = now
	if until := now.Add(retryAfter); until.After(l.blocked) {
		l.blocked = until
	}
}

// Tokens reports the tokens currently in the bucket.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.now())
	return l.tokens
}

// reserve takes a token or reports how long until one is due.
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.blocked) {
		return l.blocked.Sub(now), false
	}
	l.refill(now)
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	need := 1 - l.tokens
	return time.Duration(need / l.rate * float64(time.Second)), false
}

// refill must be called with mu held.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}
