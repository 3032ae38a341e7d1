package redis

import (
	"context"

	"github.com/alem-hub/socratic-tutor/internal/infrastructure/messaging"
)

// PubSub adapts Cache to messaging.RedisClient.
type PubSub struct {
	cache *Cache
}

// NewPubSub creates a PubSub on the cache connection.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish sends a message to a channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message any) error {
	return p.cache.client.Publish(ctx, channel, message).Err()
}

// Subscribe forwards channel messages until ctx is cancelled.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ messaging.RedisClient = (*PubSub)(nil)
