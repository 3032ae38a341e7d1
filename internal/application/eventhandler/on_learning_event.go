package eventhandler

import (
	"log/slog"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// LEARNING VIEW HANDLER
// Переносит все события обучения в проекцию активности студентов.
// Проекция строится только из событий и может быть пересобрана.
// ═══════════════════════════════════════════════════════════════════════════

// Applier - проекция, которая умеет применять события.
type Applier interface {
	Apply(event shared.Event)
}

// LearningViewHandler обновляет проекцию на каждое событие.
type LearningViewHandler struct {
	view   Applier
	logger *slog.Logger
}

// NewLearningViewHandler создаёт обработчик.
func NewLearningViewHandler(view Applier, logger *slog.Logger) *LearningViewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningViewHandler{
		view:   view,
		logger: logger.With("handler", "learning_view"),
	}
}

// Handle применяет событие к проекции.
func (h *LearningViewHandler) Handle(event shared.Event) error {
	h.view.Apply(event)
	h.logger.Debug("event applied",
		"event_type", event.EventType(),
		"student_id", event.AggregateID(),
	)
	return nil
}

// Subscribe подписывает обработчик на все события шины.
func (h *LearningViewHandler) Subscribe(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}
