package student

import (
	"context"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store - минимальный контракт хранилища, который нужен ядру репетитора.
type Store interface {
	// GetProfile возвращает профиль студента.
	// Возвращает shared.ErrStudentNotFound, если студент не найден.
	GetProfile(ctx context.Context, id shared.StudentID) (*Profile, error)

	// PutProfile сохраняет профиль. Изменяемые поля перезаписываются,
	// заблуждения обновляются по тегу, новые заметки добавляются.
	// Повторный вызов с тем же профилем ничего не меняет.
	PutProfile(ctx context.Context, profile *Profile) error

	// AppendAssessment сохраняет неизменяемый результат тестирования.
	AppendAssessment(ctx context.Context, record assessment.Record) error

	// ListAssessments возвращает результаты студента указанного вида
	// в порядке прохождения. Пустой kind возвращает все результаты.
	ListAssessments(ctx context.Context, id shared.StudentID, kind assessment.Kind) ([]assessment.Record, error)
}

// Repository расширяет Store операциями, нужными приложению.
type Repository interface {
	Store

	// CreateProfile регистрирует нового студента.
	// Возвращает shared.ErrStudentAlreadyExists, если ID занят.
	CreateProfile(ctx context.Context, profile *Profile) error

	// ListProfiles возвращает студентов когорты, отсортированных по ID.
	// Пустая когорта возвращает всех студентов.
	ListProfiles(ctx context.Context, cohort shared.Cohort) ([]*Profile, error)

	// ListCohortAssessments возвращает все результаты студентов когорты.
	// Пустая когорта возвращает результаты всех студентов.
	ListCohortAssessments(ctx context.Context, cohort shared.Cohort) ([]assessment.Record, error)

	// SaveRating сохраняет результат анализа тестирования.
	SaveRating(ctx context.Context, rating assessment.PerformanceRating) error

	// ListRatings возвращает оценки студента.
	ListRatings(ctx context.Context, id shared.StudentID) ([]assessment.PerformanceRating, error)
}
