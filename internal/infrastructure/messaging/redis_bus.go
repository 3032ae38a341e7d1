package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

// RedisClient is the Pub/Sub surface the Redis bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
}

// RedisMessage is one Pub/Sub delivery or a subscription error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client      RedisClient
	ChannelName string // "tutor:events" when empty

	// InstanceID tags outgoing messages so this process skips its own
	// echoes. Generated when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event to local handlers and mirrors it on a
// Redis channel. Events from other instances are restored to their
// concrete types and delivered locally as well.
type RedisEventBus struct {
	*InMemoryEventBus

	client   RedisClient
	channel  string
	instance string
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewRedisEventBus subscribes to the channel before returning.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "tutor:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		log:              cfg.Logger.With(logger.Component("eventbus"), slog.String("channel", cfg.ChannelName)),
		ctx:              ctx,
		cancel:           cancel,
	}
	b.loop.Add(1)
	go b.receive(messages)
	return b, nil
}

// Publish delivers locally even when Redis is unreachable; the Redis
// failure is only logged.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(envelope{
		Instance:  b.instance,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.log.Warn("redis publish failed", eventAttrs(event), logger.Err(err))
	}
	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) receive(messages <-chan RedisMessage) {
	defer b.loop.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.log.Error("redis subscription error", logger.Err(msg.Err))
				continue
			}
			b.replay(msg.Payload)
		}
	}
}

func (b *RedisEventBus) replay(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Error("undecodable event on channel", logger.Err(err))
		return
	}
	if env.Instance == b.instance {
		return
	}

	var event shared.Event = env
	if typed, ok := shared.RestoreEvent(env.Type, env.Aggregate, env.At, env.Data); ok {
		event = typed
	}
	if err := b.InMemoryEventBus.Publish(event); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.log.Error("remote event not delivered", eventAttrs(event), logger.Err(err))
	}
}

// Close stops the subscriber, then drains the local bus.
func (b *RedisEventBus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.loop.Wait()
		b.closeErr = b.InMemoryEventBus.Close()
	})
	return b.closeErr
}

// envelope is the wire form on the channel. An event type this build does
// not know is delivered as the envelope itself.
type envelope struct {
	Instance  string           `json:"instance_id"`
	Type      shared.EventType `json:"event_type"`
	Aggregate string           `json:"aggregate_id"`
	At        time.Time        `json:"occurred_at"`
	Data      map[string]any   `json:"payload"`
}

func (e envelope) EventType() shared.EventType { return e.Type }
func (e envelope) AggregateID() string         { return e.Aggregate }
func (e envelope) OccurredAt() time.Time       { return e.At }
func (e envelope) Payload() map[string]any     { return e.Data }

var _ shared.EventBus = (*RedisEventBus)(nil)
