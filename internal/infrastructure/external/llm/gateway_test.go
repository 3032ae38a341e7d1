package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/circuitbreaker"
	"github.com/alem-hub/socratic-tutor/pkg/ratelimit"
	"github.com/alem-hub/socratic-tutor/pkg/retry"
)

type fakeBackend struct {
	calls atomic.Int32
	fn    func(ctx context.Context, n int32) (string, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(ctx context.Context, _ completion.Request) (string, error) {
	return f.fn(ctx, f.calls.Add(1))
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fastOptions() Options {
	return Options{
		Timeout: 50 * time.Millisecond,
		Retrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0)),
		Logger:  quiet(),
	}
}

func TestResilient_RetriesTransientErrors(t *testing.T) {
	b := &fakeBackend{fn: func(_ context.Context, n int32) (string, error) {
		if n < 3 {
			return "", retry.Retryable(shared.ErrGatewayError)
		}
		return "on_track", nil
	}}
	res := NewResilient(b, fastOptions()).Complete(context.Background(), completion.Request{Prompt: "x"})

	require.True(t, res.OK())
	assert.Equal(t, "on_track", res.Text)
	assert.Equal(t, int32(3), b.calls.Load())
}

func TestResilient_PermanentErrorNotRetried(t *testing.T) {
	b := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", shared.WrapError("fake", "Generate", shared.ErrGatewayError, "status 400", nil)
	}}
	res := NewResilient(b, fastOptions()).Complete(context.Background(), completion.Request{Prompt: "x"})

	assert.Equal(t, completion.OutcomeTransportFailure, res.Outcome)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestResilient_TimeoutIsTransportFailure(t *testing.T) {
	b := &fakeBackend{fn: func(ctx context.Context, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	opts := fastOptions()
	opts.Retrier = retry.New(retry.WithMaxAttempts(1))
	res := NewResilient(b, opts).Complete(context.Background(), completion.Request{Prompt: "x"})

	assert.Equal(t, completion.OutcomeTransportFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, shared.ErrGatewayTimeout)
}

func TestResilient_ParseFailure(t *testing.T) {
	b := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", shared.WrapError("fake", "Generate", shared.ErrGatewayParse, "decode", errors.New("eof"))
	}}
	res := NewResilient(b, fastOptions()).Complete(context.Background(), completion.Request{Prompt: "x"})
	assert.Equal(t, completion.OutcomeParseFailure, res.Outcome)
}

func TestResilient_BreakerOpens(t *testing.T) {
	b := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", errors.New("connection refused")
	}}
	opts := fastOptions()
	opts.Retrier = retry.New(retry.WithMaxAttempts(1))
	opts.Breaker = circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))
	g := NewResilient(b, opts)

	for i := 0; i < 2; i++ {
		g.Complete(context.Background(), completion.Request{Prompt: "x"})
	}
	res := g.Complete(context.Background(), completion.Request{Prompt: "x"})

	assert.Equal(t, completion.OutcomeTransportFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestResilient_ProviderRateLimitPausesCalls(t *testing.T) {
	b := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", shared.WrapError("fake", "Generate", shared.ErrGatewayRateLimited, "status 429", nil)
	}}
	opts := fastOptions()
	opts.Limiter = ratelimit.New(ratelimit.Config{RequestsPerSecond: 100, Burst: 5, MaxWait: 10 * time.Millisecond, Cooldown: time.Minute})

	res := NewResilient(b, opts).Complete(context.Background(), completion.Request{Prompt: "x"})
	require.False(t, res.OK())
	assert.Equal(t, completion.OutcomeTransportFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, shared.ErrRateLimited)

	res = NewResilient(b, opts).Complete(context.Background(), completion.Request{Prompt: "x"})
	assert.ErrorIs(t, res.Err, ratelimit.ErrWaitTimeout, "cooldown blocks the next call locally")
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestChain(t *testing.T) {
	down := completion.GatewayFunc(func(context.Context, completion.Request) completion.Result {
		return completion.TransportFailure(nil)
	})
	garbled := completion.GatewayFunc(func(context.Context, completion.Request) completion.Result {
		return completion.ParseFailure(nil)
	})
	up := completion.GatewayFunc(func(context.Context, completion.Request) completion.Result {
		return completion.Success("yes")
	})

	res := NewChain(down, up).Complete(context.Background(), completion.Request{})
	assert.Equal(t, "yes", res.Text)

	res = NewChain(garbled, up).Complete(context.Background(), completion.Request{})
	assert.Equal(t, completion.OutcomeParseFailure, res.Outcome)

	res = NewChain(down, nil, down).Complete(context.Background(), completion.Request{})
	assert.Equal(t, completion.OutcomeTransportFailure, res.Outcome)

	res = NewChain().Complete(context.Background(), completion.Request{})
	assert.True(t, res.Failed())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "claude"}, quiet())
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "openai"}, quiet())
	assert.Error(t, err, "missing key")

	gw, err := New(context.Background(), Config{Provider: "openai", OpenAIKey: "sk", Fallback: true}, quiet())
	require.NoError(t, err)
	_, isResilient := gw.(*Resilient)
	assert.True(t, isResilient, "gemini fallback without key is skipped")
}
