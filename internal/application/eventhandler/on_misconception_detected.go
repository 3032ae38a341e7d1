package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MISCONCEPTION DETECTED HANDLER
// Следит за повторяющимися заблуждениями. Если студент снова и снова
// показывает одно и то же заблуждение, преподаватель получает сигнал.
// ═══════════════════════════════════════════════════════════════════════════

// DefaultRepeatThreshold - сколько раз заблуждение должно встретиться,
// чтобы считаться устойчивым.
const DefaultRepeatThreshold = 3

// MisconceptionAlert - сигнал об устойчивом заблуждении.
type MisconceptionAlert struct {
	StudentID string    `json:"student_id"`
	SessionID string    `json:"session_id"`
	Tag       string    `json:"tag"`
	Concept   string    `json:"concept"`
	Count     int       `json:"count"`
	At        time.Time `json:"at"`
}

// OnMisconceptionDetectedHandler собирает сигналы об устойчивых заблуждениях.
type OnMisconceptionDetectedHandler struct {
	threshold int
	maxAlerts int
	logger    *slog.Logger

	mu     sync.RWMutex
	alerts []MisconceptionAlert
}

// NewOnMisconceptionDetectedHandler создаёт обработчик.
// threshold <= 0 означает DefaultRepeatThreshold.
func NewOnMisconceptionDetectedHandler(threshold int, logger *slog.Logger) *OnMisconceptionDetectedHandler {
	if threshold <= 0 {
		threshold = DefaultRepeatThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnMisconceptionDetectedHandler{
		threshold: threshold,
		maxAlerts: 200,
		logger:    logger.With("handler", "on_misconception_detected"),
	}
}

// Handle обрабатывает событие обнаружения заблуждения.
func (h *OnMisconceptionDetectedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.MisconceptionDetectedEvent)
	if !ok {
		h.logger.Warn("received non-MisconceptionDetectedEvent", "event_type", event.EventType())
		return nil
	}

	h.logger.Info("misconception detected",
		"student_id", e.AggregateID(),
		"session_id", e.SessionID,
		"tag", e.Tag,
		"count", e.Count,
	)

	// Сигналим ровно на пороге, а потом на каждом кратном ему значении,
	// чтобы не засыпать журнал одинаковыми предупреждениями.
	if e.Count < h.threshold || e.Count%h.threshold != 0 {
		return nil
	}

	alert := MisconceptionAlert{
		StudentID: e.AggregateID(),
		SessionID: e.SessionID,
		Tag:       e.Tag,
		Concept:   e.Concept,
		Count:     e.Count,
		At:        e.OccurredAt(),
	}

	h.mu.Lock()
	h.alerts = append(h.alerts, alert)
	if len(h.alerts) > h.maxAlerts {
		h.alerts = h.alerts[len(h.alerts)-h.maxAlerts:]
	}
	h.mu.Unlock()

	h.logger.Warn("persistent misconception",
		"student_id", alert.StudentID,
		"tag", alert.Tag,
		"count", alert.Count,
	)
	return nil
}

// Alerts возвращает накопленные сигналы, старые первыми.
func (h *OnMisconceptionDetectedHandler) Alerts() []MisconceptionAlert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]MisconceptionAlert, len(h.alerts))
	copy(out, h.alerts)
	return out
}

// EventType возвращает тип события.
func (h *OnMisconceptionDetectedHandler) EventType() shared.EventType {
	return shared.EventMisconceptionDetected
}
