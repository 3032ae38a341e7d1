package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ChatHistory implements qa.HistoryStore on a capped Redis list.
type ChatHistory struct {
	cache *Cache
	// max caps the stored list; 0 keeps everything.
	max int64
}

// NewChatHistory creates a ChatHistory keeping at most max messages.
func NewChatHistory(cache *Cache, max int) *ChatHistory {
	return &ChatHistory{cache: cache, max: int64(max)}
}

// Append pushes messages to the end of the list.
func (h *ChatHistory) Append(ctx context.Context, studentID shared.StudentID, msgs ...qa.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := h.cache.key(prefixChat, string(studentID))
	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		values[i] = data
	}

	_, err := h.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if h.max > 0 {
			pipe.LTrim(ctx, key, -h.max, -1)
		}
		pipe.Expire(ctx, key, TTLChat)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: append chat: %w", err)
	}
	return nil
}

// Recent returns the last n messages, oldest first. n <= 0 returns all.
func (h *ChatHistory) Recent(ctx context.Context, studentID shared.StudentID, n int) ([]qa.Message, error) {
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	raw, err := h.cache.client.LRange(ctx, h.cache.key(prefixChat, string(studentID)), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read chat: %w", err)
	}
	out := make([]qa.Message, 0, len(raw))
	for _, r := range raw {
		var m qa.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Clear deletes the history.
func (h *ChatHistory) Clear(ctx context.Context, studentID shared.StudentID) error {
	return h.cache.Delete(ctx, h.cache.key(prefixChat, string(studentID)))
}
