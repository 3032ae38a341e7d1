package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// compareAndDelete removes KEYS[1] only when it still holds ARGV[1].
const compareAndDelete = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// SlotLocker implements tutoring.SlotLocker with SET NX and a fencing token,
// so it also serializes turns across several server processes.
type SlotLocker struct {
	cache *Cache
}

// NewSlotLocker creates a SlotLocker.
func NewSlotLocker(cache *Cache) *SlotLocker {
	return &SlotLocker{cache: cache}
}

// TryLock acquires the student's slot or fails with shared.ErrSessionBusy.
func (l *SlotLocker) TryLock(ctx context.Context, studentID shared.StudentID, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = TTLSlot
	}
	key := l.cache.key(prefixSlot, string(studentID))
	token := uuid.NewString()

	ok, err := l.cache.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire slot: %w", err)
	}
	if !ok {
		return nil, shared.ErrSessionBusy
	}

	release := func() {
		// Release must work even if the request context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.cache.client.Eval(rctx, compareAndDelete, []string{key}, token).Err()
	}
	return release, nil
}
