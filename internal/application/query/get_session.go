package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// GetSessionQuery запрашивает одну сессию. Пустой SessionID означает
// текущую открытую сессию студента.
type GetSessionQuery struct {
	StudentID string
	SessionID string
}

// GetSessionHandler обрабатывает GetSessionQuery.
type GetSessionHandler struct {
	sessions tutoring.SessionRepository
}

// NewGetSessionHandler создаёт обработчик.
func NewGetSessionHandler(sessions tutoring.SessionRepository) *GetSessionHandler {
	return &GetSessionHandler{sessions: sessions}
}

// Handle возвращает сессию. Чужая сессия выглядит как ненайденная.
func (h *GetSessionHandler) Handle(ctx context.Context, q GetSessionQuery) (*tutoring.Session, error) {
	id, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, err
	}

	var sess *tutoring.Session
	if q.SessionID == "" {
		sess, err = h.sessions.Active(ctx, id)
	} else {
		sess, err = h.sessions.Get(ctx, q.SessionID)
	}
	if err != nil {
		return nil, err
	}
	if sess.StudentID != id {
		return nil, shared.ErrSessionNotFound
	}
	return sess, nil
}

// ListSessionsQuery запрашивает историю сессий студента.
type ListSessionsQuery struct {
	StudentID string

	// OnlyOpen оставляет только незакрытые сессии.
	OnlyOpen bool
}

// SessionSummary - краткое описание сессии для списков.
type SessionSummary struct {
	ID             string            `json:"id"`
	Concept        shared.ConceptTag `json:"concept"`
	State          tutoring.State    `json:"state"`
	StepsTotal     int               `json:"steps_total"`
	StepsCompleted int               `json:"steps_completed"`
	Turns          int               `json:"turns"`
	Misconceptions []string          `json:"misconceptions,omitempty"`
	StartedAt      string            `json:"started_at"`
}

// ListSessionsHandler обрабатывает ListSessionsQuery.
type ListSessionsHandler struct {
	sessions tutoring.SessionRepository
}

// NewListSessionsHandler создаёт обработчик.
func NewListSessionsHandler(sessions tutoring.SessionRepository) *ListSessionsHandler {
	return &ListSessionsHandler{sessions: sessions}
}

// Handle возвращает сессии в порядке начала.
func (h *ListSessionsHandler) Handle(ctx context.Context, q ListSessionsQuery) ([]SessionSummary, error) {
	id, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, err
	}
	list, err := h.sessions.ListByStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list_sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(list))
	for _, s := range list {
		if q.OnlyOpen && s.IsClosed() {
			continue
		}
		out = append(out, SessionSummary{
			ID:             s.ID,
			Concept:        s.Concept,
			State:          s.State,
			StepsTotal:     len(s.Steps),
			StepsCompleted: len(s.Completed),
			Turns:          s.Turns,
			Misconceptions: s.Misconceptions,
			StartedAt:      s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out, nil
}
