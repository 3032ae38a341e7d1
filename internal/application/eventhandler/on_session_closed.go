package eventhandler

import (
	"log/slog"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// OnSessionClosedHandler пишет итог сессии в журнал.
// Подписывается на завершение и на отказ от сессии.
type OnSessionClosedHandler struct {
	eventType shared.EventType
	logger    *slog.Logger
}

// NewOnSessionClosedHandlers возвращает обработчики для обоих исходов сессии.
func NewOnSessionClosedHandlers(logger *slog.Logger) []TypedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("handler", "on_session_closed")
	return []TypedHandler{
		&OnSessionClosedHandler{eventType: shared.EventSessionCompleted, logger: logger},
		&OnSessionClosedHandler{eventType: shared.EventSessionAbandoned, logger: logger},
	}
}

// Handle логирует итог сессии.
func (h *OnSessionClosedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.SessionClosedEvent)
	if !ok {
		return nil
	}
	h.logger.Info("session closed",
		"outcome", e.EventType(),
		"student_id", e.AggregateID(),
		"session_id", e.SessionID,
		"concept", e.Concept,
		"steps", e.StepsCompleted,
		"steps_total", e.StepsTotal,
		"turns", e.Turns,
		"duration", e.Duration,
	)
	return nil
}

// EventType возвращает тип события.
func (h *OnSessionClosedHandler) EventType() shared.EventType {
	return h.eventType
}
