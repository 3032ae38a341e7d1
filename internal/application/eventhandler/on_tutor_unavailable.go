package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TUTOR UNAVAILABLE HANDLER
// Считает отказы репетитора в скользящем окне. Когда отказов много,
// сервис считается деградировавшим, и это видно в health-check.
// ═══════════════════════════════════════════════════════════════════════════

// OutageConfig настраивает порог деградации.
type OutageConfig struct {
	// Window - окно, в котором считаются отказы.
	Window time.Duration

	// Threshold - сколько отказов в окне означает деградацию.
	Threshold int
}

// DefaultOutageConfig возвращает конфигурацию по умолчанию.
func DefaultOutageConfig() OutageConfig {
	return OutageConfig{
		Window:    5 * time.Minute,
		Threshold: 3,
	}
}

// OnTutorUnavailableHandler отслеживает отказы репетитора.
type OnTutorUnavailableHandler struct {
	config OutageConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	outages []time.Time
}

// NewOnTutorUnavailableHandler создаёт обработчик.
func NewOnTutorUnavailableHandler(config OutageConfig, logger *slog.Logger) *OnTutorUnavailableHandler {
	def := DefaultOutageConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnTutorUnavailableHandler{
		config: config,
		logger: logger.With("handler", "on_tutor_unavailable"),
		now:    time.Now,
	}
}

// Handle регистрирует отказ.
func (h *OnTutorUnavailableHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.TutorUnavailableEvent)
	if !ok {
		h.logger.Warn("received non-TutorUnavailableEvent", "event_type", event.EventType())
		return nil
	}

	h.mu.Lock()
	h.outages = append(h.prune(), h.now())
	recent := len(h.outages)
	h.mu.Unlock()

	h.logger.Error("tutor unavailable",
		"student_id", e.AggregateID(),
		"session_id", e.SessionID,
		"failures", e.Failures,
		"recent_outages", recent,
	)
	if recent == h.config.Threshold {
		h.logger.Warn("tutor degraded",
			"outages", recent,
			"window", h.config.Window,
		)
	}
	return nil
}

// Degraded сообщает, превышен ли порог отказов в текущем окне.
func (h *OnTutorUnavailableHandler) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outages = h.prune()
	return len(h.outages) >= h.config.Threshold
}

// RecentOutages возвращает число отказов в текущем окне.
func (h *OnTutorUnavailableHandler) RecentOutages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outages = h.prune()
	return len(h.outages)
}

// prune отбрасывает отказы за пределами окна. Вызывается под mu.
func (h *OnTutorUnavailableHandler) prune() []time.Time {
	cutoff := h.now().Add(-h.config.Window)
	i := 0
	for i < len(h.outages) && !h.outages[i].After(cutoff) {
		i++
	}
	return h.outages[i:]
}

// EventType возвращает тип события.
func (h *OnTutorUnavailableHandler) EventType() shared.EventType {
	return shared.EventTutorUnavailable
}
