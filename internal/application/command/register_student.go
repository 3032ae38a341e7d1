package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER STUDENT COMMAND
// Creates a student profile and assigns it to a study cohort.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterStudentCommand contains the data to register a student.
type RegisterStudentCommand struct {
	// StudentID is the study identifier, e.g. "STU001".
	StudentID string

	// Cohort is "1"/"A"/"tutor" or "2"/"B"/"chat".
	Cohort string
}

// RegisterStudentResult contains the registered profile.
type RegisterStudentResult struct {
	Profile *student.Profile
	Events  []shared.Event
}

// RegisterStudentHandler handles RegisterStudentCommand.
type RegisterStudentHandler struct {
	students  student.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewRegisterStudentHandler creates a new RegisterStudentHandler.
func NewRegisterStudentHandler(students student.Repository, publisher shared.EventPublisher, logger *slog.Logger) *RegisterStudentHandler {
	return &RegisterStudentHandler{
		students:  students,
		publisher: publisher,
		logger:    orDefault(logger),
	}
}

// Handle registers the student. It returns shared.ErrStudentAlreadyExists
// when the ID is taken.
func (h *RegisterStudentHandler) Handle(ctx context.Context, cmd RegisterStudentCommand) (*RegisterStudentResult, error) {
	cohort, err := shared.NewCohort(cmd.Cohort)
	if err != nil {
		return nil, err
	}
	profile, err := student.NewProfile(student.NewProfileParams{ID: cmd.StudentID, Cohort: cohort})
	if err != nil {
		return nil, err
	}

	if err := h.students.CreateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	result := &RegisterStudentResult{
		Profile: profile,
		Events:  []shared.Event{shared.NewStudentRegisteredEvent(string(profile.ID), string(profile.Cohort))},
	}
	publish(h.publisher, h.logger, result.Events)

	h.logger.Info("student registered",
		"student_id", profile.ID,
		"cohort", profile.Cohort,
	)
	return result, nil
}
