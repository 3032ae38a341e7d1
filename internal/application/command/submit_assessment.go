package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT ASSESSMENT COMMAND
// Grades a pre or final assessment, stores the immutable record and updates
// the student's weak/strong areas and difficulty from its analysis.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAssessmentCommand contains the submitted answers.
type SubmitAssessmentCommand struct {
	StudentID string

	// Kind is "pre" or "final".
	Kind string

	// Answers maps question IDs of the question bank to submitted answers.
	// Bank questions without an answer are graded as unanswered.
	Answers map[string]string

	// Inputs carries pre-paired answers instead of bank grading. When set,
	// Answers is ignored.
	Inputs []assessment.AnswerInput

	// TakenAt defaults to now.
	TakenAt time.Time
}

// SubmitAssessmentResult contains the graded record and its analysis.
type SubmitAssessmentResult struct {
	Record  assessment.Record
	Rating  assessment.PerformanceRating
	Profile *student.Profile
	Events  []shared.Event
}

// SubmitAssessmentConfig configures SubmitAssessmentHandler.
type SubmitAssessmentConfig struct {
	// Analyze enables the gateway-backed analysis. When false ratings are
	// always deterministic.
	Analyze bool
}

// SubmitAssessmentHandler handles SubmitAssessmentCommand.
type SubmitAssessmentHandler struct {
	students  student.Repository
	bank      *assessment.Bank
	analyzer  *assessment.Analyzer
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    SubmitAssessmentConfig
	now       func() time.Time
}

// NewSubmitAssessmentHandler creates a new SubmitAssessmentHandler.
// A nil bank uses the embedded question bank.
func NewSubmitAssessmentHandler(
	students student.Repository,
	bank *assessment.Bank,
	analyzer *assessment.Analyzer,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config SubmitAssessmentConfig,
) *SubmitAssessmentHandler {
	if bank == nil {
		bank = assessment.DefaultBank()
	}
	if analyzer == nil {
		analyzer = assessment.NewAnalyzer(nil)
	}
	return &SubmitAssessmentHandler{
		students:  students,
		bank:      bank,
		analyzer:  analyzer,
		publisher: publisher,
		logger:    orDefault(logger),
		config:    config,
		now:       time.Now,
	}
}

// Handle grades and stores the assessment.
func (h *SubmitAssessmentHandler) Handle(ctx context.Context, cmd SubmitAssessmentCommand) (*SubmitAssessmentResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}
	kind, err := assessment.ParseKind(cmd.Kind)
	if err != nil {
		return nil, err
	}

	profile, err := h.students.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	inputs := cmd.Inputs
	if len(inputs) == 0 {
		inputs = h.bank.Inputs(kind, cmd.Answers)
	}
	takenAt := cmd.TakenAt
	if takenAt.IsZero() {
		takenAt = h.now().UTC()
	}

	record, err := assessment.NewRecord(id, kind, inputs, takenAt)
	if err != nil {
		return nil, err
	}
	if err := h.students.AppendAssessment(ctx, record); err != nil {
		return nil, fmt.Errorf("submit_assessment: append record: %w", err)
	}

	var rating assessment.PerformanceRating
	if h.config.Analyze {
		rating = h.analyzer.Analyze(ctx, record, h.bank)
	} else {
		rating = assessment.FallbackRating(record)
	}

	profile.ApplyRating(rating.WeakAreas, rating.StrongAreas, rating.Difficulty)
	profile.AddNote(student.NoteAssessment, "",
		fmt.Sprintf("%s assessment: %d/%d correct (%.0f%%), level %s",
			kind, record.Correct(), record.Total(), record.Score()*100, rating.Difficulty),
		record.TakenAt)

	if err := h.students.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("submit_assessment: save profile: %w", err)
	}
	if err := h.students.SaveRating(ctx, rating); err != nil {
		return nil, fmt.Errorf("submit_assessment: save rating: %w", err)
	}

	result := &SubmitAssessmentResult{
		Record:  record,
		Rating:  rating,
		Profile: profile,
		Events: []shared.Event{shared.NewAssessmentSubmittedEvent(
			string(id), record.ID, string(kind), string(profile.Cohort), record.Score())},
	}
	publish(h.publisher, h.logger, result.Events)

	h.logger.Info("assessment submitted",
		"student_id", id,
		"kind", kind,
		"score", record.Score(),
		"rating_source", rating.Source,
	)
	return result, nil
}
