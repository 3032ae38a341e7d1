package messaging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet()})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var started, all int
	require.NoError(t, bus.Subscribe(shared.EventSessionStarted, func(shared.Event) error { started++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewSessionStartedEvent("STU001", "s1", "sine", 4)))
	require.NoError(t, bus.Publish(shared.NewStepCompletedEvent("STU001", "s1", 0, 3)))

	assert.Equal(t, 1, started)
	assert.Equal(t, 2, all)
	assert.Equal(t, StatsSnapshot{Published: 2, Handled: 3}, bus.Stats())
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var after bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { after = true; return nil }))

	require.NoError(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")))
	assert.True(t, after)
	assert.Equal(t, int64(1), bus.Stats().Failed)
}

func TestInMemoryEventBus_MiddlewareOrder(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var trace []string
	mark := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				trace = append(trace, name)
				return next(e)
			}
		}
	}
	bus.Use(mark("a"), mark("b"))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { trace = append(trace, "h"); return nil }))
	require.NoError(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")))

	assert.Equal(t, []string{"a", "b", "h"}, trace)
}

func TestLoggingMiddleware_WarnsOnSlowHandlers(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	bus := syncBus()
	defer bus.Close()
	bus.Use(LoggingMiddleware(log, time.Millisecond))

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	require.NoError(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")))

	assert.Contains(t, buf.String(), "slow event handler")
	assert.Contains(t, buf.String(), "event.aggregate_id=STU001")
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quiet()})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(5), n.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventSessionStarted, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_Validation(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventSessionStarted, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

// fakePubSub loops published messages back to every subscriber.
type fakePubSub struct {
	mu      sync.Mutex
	subs    []chan RedisMessage
	failPub bool
}

func (f *fakePubSub) Publish(_ context.Context, channel string, message any) error {
	if f.failPub {
		return errors.New("connection refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (f *fakePubSub) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func TestRedisEventBus_ReplaysRemoteEvents(t *testing.T) {
	ps := &fakePubSub{}
	local := InMemoryEventBusConfig{Logger: quiet()}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: ps, InstanceID: "a", LocalBusConfig: local, Logger: quiet()})
	require.NoError(t, err)
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: ps, InstanceID: "b", LocalBusConfig: local, Logger: quiet()})
	require.NoError(t, err)

	var onA atomic.Int32
	got := make(chan shared.Event, 1)
	require.NoError(t, a.SubscribeAll(func(shared.Event) error { onA.Add(1); return nil }))
	require.NoError(t, b.Subscribe(shared.EventMisconceptionDetected, func(e shared.Event) error { got <- e; return nil }))

	require.NoError(t, a.Publish(shared.NewMisconceptionDetectedEvent("STU001", "s1", "inverse_as_reciprocal", "inverse", 1)))

	select {
	case e := <-got:
		assert.Equal(t, shared.EventMisconceptionDetected, e.EventType())
		typed, ok := e.(shared.MisconceptionDetectedEvent)
		require.True(t, ok, "remote event should be restored to its concrete type")
		assert.Equal(t, "inverse_as_reciprocal", typed.Tag)
		assert.Equal(t, 1, typed.Count)
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	// a handled its own event once; the loopback copy was filtered.
	assert.Equal(t, int32(1), onA.Load())
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	ps := &fakePubSub{failPub: true}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: ps, LocalBusConfig: InMemoryEventBusConfig{Logger: quiet()}, Logger: quiet()})
	require.NoError(t, err)
	defer bus.Close()

	var n int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { n++; return nil }))
	require.NoError(t, bus.Publish(shared.NewStudentRegisteredEvent("STU001", "1")))
	assert.Equal(t, 1, n)
}
