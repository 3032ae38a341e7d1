// Package llm turns raw provider backends into the completion.Gateway the
// tutoring core depends on. Every call gets a deadline, bounded retries and
// a per-provider circuit breaker, and comes back as a completion.Result.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/circuitbreaker"
	"github.com/alem-hub/socratic-tutor/pkg/ratelimit"
	"github.com/alem-hub/socratic-tutor/pkg/retry"
)

// DefaultTimeout bounds one provider call.
const DefaultTimeout = 30 * time.Second

// Resilient wraps a Backend.
type Resilient struct {
	backend completion.Backend
	timeout time.Duration
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// Options configures a Resilient gateway. Zero values use defaults.
type Options struct {
	Timeout time.Duration
	Retrier *retry.Retrier
	Breaker *circuitbreaker.CircuitBreaker

	// Limiter throttles calls to the provider. Nil means unlimited.
	Limiter *ratelimit.Limiter

	Logger *slog.Logger
}

// NewResilient wraps backend.
func NewResilient(backend completion.Backend, opts Options) *Resilient {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("provider", backend.Name())
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.GatewayRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying completion", "attempt", attempt, "delay", delay, "error", err)
		})
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.GatewayBreaker(backend.Name(),
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("gateway circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
			circuitbreaker.WithIsFailure(isTransportError),
		)
	}
	return &Resilient{
		backend: backend,
		timeout: opts.Timeout,
		retrier: opts.Retrier,
		breaker: opts.Breaker,
		limiter: opts.Limiter,
		logger:  logger,
	}
}

// Name returns the wrapped provider name.
func (g *Resilient) Name() string { return g.backend.Name() }

// Complete implements completion.Gateway.
func (g *Resilient) Complete(ctx context.Context, req completion.Request) completion.Result {
	req = req.WithDefaults()
	start := time.Now()

	var text string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.retrier.Do(ctx, func(ctx context.Context) error {
			if err := g.limiter.Wait(ctx); err != nil {
				return shared.WrapError("completion", "Complete", shared.ErrGatewayRateLimited, "local rate limit", err)
			}
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()

			out, err := g.backend.Generate(callCtx, req)
			if errors.Is(err, shared.ErrRateLimited) {
				g.limiter.Penalize(0)
			}
			if err != nil {
				return err
			}
			text = out
			return nil
		})
	})

	if err != nil {
		g.logger.Warn("completion failed",
			"purpose", req.Purpose,
			"latency", time.Since(start),
			"error", err,
		)
		return toResult(err)
	}

	g.logger.Debug("completion ok", "purpose", req.Purpose, "latency", time.Since(start), "chars", len(text))
	return completion.Success(text)
}

func toResult(err error) completion.Result {
	switch {
	case errors.Is(err, shared.ErrGatewayParse):
		return completion.ParseFailure(err)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return completion.TransportFailure(shared.WrapError("completion", "Complete", shared.ErrGatewayError, "provider circuit open", err))
	case errors.Is(err, context.DeadlineExceeded):
		return completion.TransportFailure(shared.WrapError("completion", "Complete", shared.ErrGatewayTimeout, "deadline exceeded", err))
	default:
		return completion.TransportFailure(err)
	}
}

// isTransportError keeps unusable replies from tripping the breaker.
func isTransportError(err error) bool {
	return !errors.Is(err, shared.ErrGatewayParse)
}

// ══════════════════════════════════════════════════════════════════════════════
// FALLBACK CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// Chain tries gateways in order and moves on only after a transport failure.
// A parse failure is the provider's answer and is returned as is.
type Chain struct {
	gateways []completion.Gateway
}

// NewChain creates a Chain. Nil gateways are skipped.
func NewChain(gateways ...completion.Gateway) *Chain {
	c := &Chain{}
	for _, g := range gateways {
		if g != nil {
			c.gateways = append(c.gateways, g)
		}
	}
	return c
}

// Complete implements completion.Gateway.
func (c *Chain) Complete(ctx context.Context, req completion.Request) completion.Result {
	last := completion.TransportFailure(nil)
	for _, g := range c.gateways {
		last = g.Complete(ctx, req)
		if last.Outcome != completion.OutcomeTransportFailure {
			return last
		}
		if ctx.Err() != nil {
			break
		}
	}
	return last
}

var (
	_ completion.Gateway = (*Resilient)(nil)
	_ completion.Gateway = (*Chain)(nil)
)
