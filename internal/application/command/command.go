// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// DefaultSlotTTL bounds how long a crashed turn can hold a student's slot.
// It must outlive one full turn including gateway retries.
const DefaultSlotTTL = 2 * time.Minute

// publish sends events and logs failures. Events are notifications; a
// failed publish never fails the command that produced them.
func publish(publisher shared.EventPublisher, logger *slog.Logger, events []shared.Event) {
	if publisher == nil {
		return
	}
	for _, e := range events {
		if err := publisher.Publish(e); err != nil {
			logger.Warn("failed to publish event",
				"event_type", e.EventType(),
				"aggregate_id", e.AggregateID(),
				"error", err,
			)
		}
	}
}

// acquire takes the per-student slot.
func acquire(ctx context.Context, locker tutoring.SlotLocker, id shared.StudentID, ttl time.Duration) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return locker.TryLock(ctx, id, ttl)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
