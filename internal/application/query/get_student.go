package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/projections"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT QUERY
// Возвращает профиль студента вместе с результатами тестирования,
// оценками и сводкой активности.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentQuery содержит параметры запроса.
type GetStudentQuery struct {
	StudentID string

	// NotesLimit - сколько последних заметок вернуть (0 = все).
	NotesLimit int
}

// GetStudentResult содержит данные студента.
type GetStudentResult struct {
	Profile     *student.Profile
	Notes       []student.ProgressNote
	Assessments []assessment.Record
	Ratings     []assessment.PerformanceRating

	// Activity может быть nil, если проекция ещё не видела событий студента.
	Activity *projections.LearningCard
}

// GetStudentHandler обрабатывает GetStudentQuery.
type GetStudentHandler struct {
	students student.Repository
	activity ActivitySource
}

// NewGetStudentHandler создаёт обработчик. activity может быть nil.
func NewGetStudentHandler(students student.Repository, activity ActivitySource) *GetStudentHandler {
	return &GetStudentHandler{students: students, activity: activity}
}

// Handle выполняет запрос.
func (h *GetStudentHandler) Handle(ctx context.Context, q GetStudentQuery) (*GetStudentResult, error) {
	id, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, err
	}

	profile, err := h.students.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := h.students.ListAssessments(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("get_student: list assessments: %w", err)
	}
	ratings, err := h.students.ListRatings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_student: list ratings: %w", err)
	}

	result := &GetStudentResult{
		Profile:     profile,
		Notes:       profile.ProgressNotes,
		Assessments: records,
		Ratings:     ratings,
	}
	if q.NotesLimit > 0 {
		result.Notes = profile.RecentNotes(q.NotesLimit)
	}
	if h.activity != nil {
		if card, ok := h.activity.Get(ctx, id); ok {
			result.Activity = card
		}
	}
	return result, nil
}
