// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"fmt"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// TypedHandler - обработчик, привязанный к одному типу события.
type TypedHandler interface {
	Handle(event shared.Event) error
	EventType() shared.EventType
}

// Register подписывает обработчики на их типы событий.
func Register(bus shared.EventSubscriber, handlers ...TypedHandler) error {
	for _, h := range handlers {
		if err := bus.Subscribe(h.EventType(), h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", h.EventType(), err)
		}
	}
	return nil
}
