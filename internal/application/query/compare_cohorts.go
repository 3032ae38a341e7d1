package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPARE COHORTS QUERY
// Сравнивает прирост результатов тестирования между когортой репетитора (A)
// и когортой чата (B). Результат вычисляется каждый раз заново из записей.
// ══════════════════════════════════════════════════════════════════════════════

// CompareCohortsQuery не имеет параметров: сравниваются всегда обе когорты.
type CompareCohortsQuery struct{}

// CompareCohortsResult содержит результат сравнения.
type CompareCohortsResult struct {
	Comparison  assessment.CohortComparison `json:"comparison"`
	Analysis    string                      `json:"analysis"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Err возвращает shared.ErrInsufficientData, если у одной из когорт нет пар.
func (r *CompareCohortsResult) Err() error {
	return r.Comparison.Err()
}

// CompareCohortsHandler обрабатывает CompareCohortsQuery.
type CompareCohortsHandler struct {
	students  student.Repository
	engine    *assessment.Engine
	publisher shared.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewCompareCohortsHandler создаёт обработчик. Пустой engine использует
// эпсилон по умолчанию, пустой publisher отключает события.
func NewCompareCohortsHandler(
	students student.Repository,
	engine *assessment.Engine,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *CompareCohortsHandler {
	if engine == nil {
		engine = assessment.NewEngine()
	}
	return &CompareCohortsHandler{
		students:  students,
		engine:    engine,
		publisher: publisher,
		logger:    orDefault(logger),
		now:       time.Now,
	}
}

// Handle загружает обе когорты параллельно и сравнивает их.
// Недостаток данных не является ошибкой Handle: он отражается в
// Comparison.Winner и в CompareCohortsResult.Err.
func (h *CompareCohortsHandler) Handle(ctx context.Context, _ CompareCohortsQuery) (*CompareCohortsResult, error) {
	var pairsA, pairsB []assessment.Pair

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pairsA, err = h.loadPairs(gctx, shared.CohortTutor)
		return err
	})
	g.Go(func() error {
		var err error
		pairsB, err = h.loadPairs(gctx, shared.CohortChat)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cmp := h.engine.Compare(pairsA, pairsB)
	cmp.A.Cohort = shared.CohortTutor
	cmp.B.Cohort = shared.CohortChat

	result := &CompareCohortsResult{
		Comparison:  cmp,
		Analysis:    cmp.Analysis(),
		GeneratedAt: h.now().UTC(),
	}

	if h.publisher != nil {
		event := shared.NewComparisonComputedEvent(string(cmp.Winner), cmp.A.Improvement, cmp.B.Improvement)
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish comparison event", "error", err)
		}
	}

	h.logger.Info("cohorts compared",
		"winner", cmp.Winner,
		"eligible_a", cmp.A.Eligible,
		"eligible_b", cmp.B.Eligible,
	)
	return result, nil
}

// loadPairs собирает пары pre/final для когорты. Студенты без записей
// попадают в пары пустыми, чтобы учитываться в Students и Excluded.
func (h *CompareCohortsHandler) loadPairs(ctx context.Context, cohort shared.Cohort) ([]assessment.Pair, error) {
	profiles, err := h.students.ListProfiles(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("compare_cohorts: list cohort %s: %w", cohort, err)
	}
	records, err := h.students.ListCohortAssessments(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("compare_cohorts: list assessments of cohort %s: %w", cohort, err)
	}

	pairs := assessment.PairRecords(records)
	seen := make(map[shared.StudentID]bool, len(pairs))
	for _, p := range pairs {
		seen[p.StudentID] = true
	}
	for _, p := range profiles {
		if !seen[p.ID] {
			pairs = append(pairs, assessment.Pair{StudentID: p.ID})
		}
	}
	return pairs, nil
}
