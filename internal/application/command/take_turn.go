package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// TAKE TURN COMMAND
// Processes one learner utterance in the student's session. Turns of one
// student are serialized by the session slot; a concurrent turn is rejected
// with shared.ErrSessionBusy.
// ══════════════════════════════════════════════════════════════════════════════

// TakeTurnCommand contains one learner utterance.
type TakeTurnCommand struct {
	StudentID string

	// SessionID is optional; the student's active session is used when empty.
	SessionID string

	Utterance string
}

// TakeTurnResult contains the tutor's reply.
type TakeTurnResult struct {
	Session *tutoring.Session
	Turn    tutoring.TurnResult
}

// TakeTurnHandler handles TakeTurnCommand.
type TakeTurnHandler struct {
	deps SessionDeps
}

// NewTakeTurnHandler creates a new TakeTurnHandler.
func NewTakeTurnHandler(deps SessionDeps) *TakeTurnHandler {
	deps.Logger = orDefault(deps.Logger)
	return &TakeTurnHandler{deps: deps}
}

// Handle runs the turn and persists the session and profile. When the tutor
// is unavailable the state is still saved and shared.ErrTutorUnavailable is
// returned together with the result.
func (h *TakeTurnHandler) Handle(ctx context.Context, cmd TakeTurnCommand) (*TakeTurnResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Utterance) == "" {
		return nil, shared.ErrEmptyUtterance
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
	sess, err := loadSession(ctx, h.deps.Sessions, id, cmd.SessionID)
	if err != nil {
		return nil, err
	}

	turn, turnErr := h.deps.Controller.Turn(ctx, sess, profile, cmd.Utterance)
	if turnErr != nil && !tutoring.IsUnavailable(turnErr) {
		return nil, turnErr
	}

	if err := h.persist(ctx, sess, profile); err != nil {
		return nil, err
	}
	publish(h.deps.Publisher, h.deps.Logger, turn.Events)

	return &TakeTurnResult{Session: sess, Turn: turn}, turnErr
}

func (h *TakeTurnHandler) persist(ctx context.Context, sess *tutoring.Session, profile *student.Profile) error {
	if err := h.deps.Sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("take_turn: save session: %w", err)
	}
	if err := h.deps.Students.PutProfile(ctx, profile); err != nil {
		return fmt.Errorf("take_turn: save profile: %w", err)
	}
	return nil
}

// loadSession finds the addressed session, or the active one when
// sessionID is empty, and checks that it belongs to the student.
func loadSession(ctx context.Context, repo tutoring.SessionRepository, id shared.StudentID, sessionID string) (*tutoring.Session, error) {
	var (
		sess *tutoring.Session
		err  error
	)
	if sessionID == "" {
		sess, err = repo.Active(ctx, id)
	} else {
		sess, err = repo.Get(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if sess.StudentID != id {
		return nil, shared.ErrSessionNotFound
	}
	return sess, nil
}
