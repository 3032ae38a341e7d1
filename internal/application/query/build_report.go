package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// BUILD REPORT QUERY
// Собирает данные для выгрузки отчёта: сравнение когорт, все записи
// тестирования и все оценки.
// ══════════════════════════════════════════════════════════════════════════════

// ReportData - всё, что попадает в выгрузку.
type ReportData struct {
	GeneratedAt time.Time
	Comparison  assessment.CohortComparison
	Records     []assessment.Record
	Ratings     []assessment.PerformanceRating
}

// BuildReportHandler собирает ReportData.
type BuildReportHandler struct {
	students student.Repository
	compare  *CompareCohortsHandler
}

// NewBuildReportHandler создаёт обработчик.
func NewBuildReportHandler(students student.Repository, compare *CompareCohortsHandler) *BuildReportHandler {
	return &BuildReportHandler{students: students, compare: compare}
}

// Handle собирает отчёт. Записи упорядочены по студенту и времени.
func (h *BuildReportHandler) Handle(ctx context.Context) (*ReportData, error) {
	cmp, err := h.compare.Handle(ctx, CompareCohortsQuery{})
	if err != nil {
		return nil, err
	}

	records, err := h.students.ListCohortAssessments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("build_report: list assessments: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StudentID != records[j].StudentID {
			return records[i].StudentID < records[j].StudentID
		}
		return records[i].TakenAt.Before(records[j].TakenAt)
	})

	profiles, err := h.students.ListProfiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("build_report: list profiles: %w", err)
	}
	var ratings []assessment.PerformanceRating
	for _, p := range profiles {
		rs, err := h.students.ListRatings(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("build_report: list ratings of %s: %w", p.ID, err)
		}
		ratings = append(ratings, rs...)
	}

	return &ReportData{
		GeneratedAt: cmp.GeneratedAt,
		Comparison:  cmp.Comparison,
		Records:     records,
		Ratings:     ratings,
	}, nil
}
