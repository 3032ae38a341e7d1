// Package circuitbreaker stops the tutor from calling a completion provider
// that keeps failing. After enough consecutive failures the breaker opens and
// calls fail immediately; after a cool-down a single probe is let through and
// its outcome closes or re-opens the breaker.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned without calling the provider.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned while the half-open probe is in flight.
	ErrTooManyRequests = errors.New("circuit breaker is probing")
)

type settings struct {
	failures  int
	successes int
	coolDown  time.Duration
	probes    int
	onChange  func(name string, from, to State)
	isFailure func(error) bool
}

// Option tunes a breaker.
type Option func(*settings)

// WithFailureThreshold is the number of consecutive failures that opens the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failures = n
		}
	}
}

// WithSuccessThreshold is the number of good probes that closes it again.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successes = n
		}
	}
}

// WithTimeout is how long the breaker stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolDown = d
		}
	}
}

// WithMaxHalfOpenRequests is the number of concurrent probes.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.probes = n
		}
	}
}

// WithOnStateChange is called under the breaker's lock; keep it short.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onChange = fn }
}

// WithIsFailure decides which errors count. Cancellation by the caller never
// counts.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu       sync.Mutex
	state    State
	streak   int // consecutive failures when closed, successes when half-open
	openedAt time.Time
	inFlight int
	now      func() time.Time
}

// New creates a closed breaker. Defaults: 5 failures, 2 successes, 30s.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{failures: 5, successes: 2, coolDown: 30 * time.Second, probes: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// GatewayBreaker is the breaker for one completion provider: five straight
// transport failures open it, one good probe after 30s closes it.
func GatewayBreaker(provider string, onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithTimeout(30 * time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	}
	return New("gateway-"+provider, append(base, opts...)...)
}

// Execute runs fn unless the breaker is open and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err, ctx.Err() != nil && errors.Is(err, context.Canceled))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.coolDown {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.probes {
			return false, ErrTooManyRequests
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error, cancelled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.inFlight > 0 {
		cb.inFlight--
	}
	if cancelled {
		return
	}
	failed := err != nil && (cb.cfg.isFailure == nil || cb.cfg.isFailure(err))

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.streak = 0
			return
		}
		cb.streak++
		if cb.streak >= cb.cfg.failures {
			cb.open()
		}
	case StateHalfOpen:
		if failed {
			cb.open()
			return
		}
		cb.streak++
		if cb.streak >= cb.cfg.successes {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.streak = 0
	if to != StateHalfOpen {
		cb.inFlight = 0
	}
	if cb.cfg.onChange != nil {
		cb.cfg.onChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports open until the next call probes.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name identifies the breaker in logs.
func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen reports whether calls are being refused.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// IsClosed reports normal operation.
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }
