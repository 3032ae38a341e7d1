// Package messaging fans domain events out to in-process handlers and,
// when several tutor processes run, to peers over Redis Pub/Sub.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrNilEvent       = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware decorates a handler. The first middleware added runs first.
type Middleware func(shared.EventHandler) shared.EventHandler

func eventAttrs(e shared.Event) slog.Attr {
	return slog.Group("event",
		slog.String("type", string(e.EventType())),
		slog.String("aggregate_id", e.AggregateID()),
	)
}

// RecoveryMiddleware turns a handler panic into ErrHandlerPanic. Every bus
// installs it first.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked", eventAttrs(e), slog.Any("panic", r))
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(e)
		}
	}
}

// LoggingMiddleware warns about handlers slower than slow. Zero disables
// the warning.
func LoggingMiddleware(log *slog.Logger, slow time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) error {
			start := time.Now()
			err := next(e)
			if took := time.Since(start); err == nil && slow > 0 && took > slow {
				log.Warn("slow event handler", eventAttrs(e), logger.Latency(took))
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded pool; Publish does not wait.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// DefaultInMemoryEventBusConfig is asynchronous with eight workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 8}
}

// InMemoryEventBus delivers events to handlers registered in this process.
// Handler errors are counted and logged, never returned to the publisher.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	chain    []Middleware
	closed   bool

	async   bool
	slots   chan struct{}
	pending sync.WaitGroup

	log   *slog.Logger
	stats Stats
}

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	log := cfg.Logger.With(logger.Component("eventbus"))
	return &InMemoryEventBus{
		byType: make(map[shared.EventType][]shared.EventHandler),
		chain:  []Middleware{RecoveryMiddleware(log)},
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, cfg.WorkerPoolSize),
		log:    log,
	}
}

// Use appends middleware for events published after the call.
func (b *InMemoryEventBus) Use(m ...Middleware) {
	b.mu.Lock()
	b.chain = append(b.chain, m...)
	b.mu.Unlock()
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() { b.byType[eventType] = append(b.byType[eventType], handler) })
}

// SubscribeAll receives every event after the type-specific handlers.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() { b.wildcard = append(b.wildcard, handler) })
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := slices.Concat(b.byType[event.EventType()], b.wildcard)
	chain := slices.Clone(b.chain)
	if b.async {
		// Counted under the lock so Close cannot miss them.
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.published.Add(1)
	for _, h := range targets {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		if b.async {
			b.dispatch(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

// dispatch waits for a pool slot on its own goroutine, so Publish never
// blocks on slow handlers.
func (b *InMemoryEventBus) dispatch(event shared.Event, h shared.EventHandler) {
	go func() {
		defer b.pending.Done()
		b.slots <- struct{}{}
		defer func() { <-b.slots }()
		b.deliver(event, h)
	}()
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	if err := h(event); err != nil {
		b.stats.failed.Add(1)
		b.log.Error("event handler failed", eventAttrs(event), logger.Err(err))
		return
	}
	b.stats.handled.Add(1)
}

// Close rejects further use and waits until every event already
// published has been delivered.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	return nil
}

func (b *InMemoryEventBus) Stats() StatsSnapshot {
	return b.stats.snapshot()
}

// Stats counts bus activity.
type Stats struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Published: s.published.Load(),
		Handled:   s.handled.Load(),
		Failed:    s.failed.Load(),
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
