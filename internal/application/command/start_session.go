package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/decompose"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// START SESSION COMMAND
// Opens a Socratic tutoring session on a new problem.
// ══════════════════════════════════════════════════════════════════════════════

// StartSessionCommand contains the problem to work on.
type StartSessionCommand struct {
	StudentID string
	Problem   string

	// Concept is optional; it is inferred from the problem when empty.
	Concept string

	// Expected is the final answer, when known.
	Expected string
}

// StartSessionResult contains the opened session and the first question.
type StartSessionResult struct {
	Session  *tutoring.Session
	Response string
	Events   []shared.Event
}

// SessionDeps are the collaborators shared by the session commands.
type SessionDeps struct {
	Students   student.Repository
	Sessions   tutoring.SessionRepository
	Locker     tutoring.SlotLocker
	Controller *tutoring.Controller
	Publisher  shared.EventPublisher
	Logger     *slog.Logger

	// SlotTTL bounds a held student slot (default DefaultSlotTTL).
	SlotTTL time.Duration
}

// StartSessionHandler handles StartSessionCommand.
type StartSessionHandler struct {
	deps SessionDeps
}

// NewStartSessionHandler creates a new StartSessionHandler.
func NewStartSessionHandler(deps SessionDeps) *StartSessionHandler {
	deps.Logger = orDefault(deps.Logger)
	return &StartSessionHandler{deps: deps}
}

// Handle starts a session. Only tutor-cohort students get sessions, and a
// student has at most one open session.
func (h *StartSessionHandler) Handle(ctx context.Context, cmd StartSessionCommand) (*StartSessionResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}

	release, err := acquire(ctx, h.deps.Locker, id, h.deps.SlotTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	profile, err := h.deps.Students.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile.Cohort != shared.CohortTutor {
		return nil, shared.ErrWrongCohortSession
	}

	active, err := h.deps.Sessions.Active(ctx, id)
	switch {
	case err == nil && active != nil:
		return nil, shared.WrapError("tutoring", "Start", shared.ErrSessionActive,
			"finish or abandon session "+active.ID+" first", nil)
	case err != nil && !errors.Is(err, shared.ErrSessionNotFound):
		return nil, fmt.Errorf("start_session: load active session: %w", err)
	}

	started, err := h.deps.Controller.Start(ctx, profile, decompose.Problem{
		Statement: cmd.Problem,
		Concept:   shared.NormalizeConcept(cmd.Concept),
		Expected:  cmd.Expected,
	})
	if err != nil {
		return nil, err
	}

	if err := h.deps.Sessions.Save(ctx, started.Session); err != nil {
		return nil, fmt.Errorf("start_session: save session: %w", err)
	}
	publish(h.deps.Publisher, h.deps.Logger, started.Events)

	return &StartSessionResult{
		Session:  started.Session,
		Response: started.Response,
		Events:   started.Events,
	}, nil
}
