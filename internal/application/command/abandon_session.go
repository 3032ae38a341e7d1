package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// AbandonSessionCommand closes a session before completion.
type AbandonSessionCommand struct {
	StudentID string
	SessionID string
}

// AbandonSessionResult contains the closed session.
type AbandonSessionResult struct {
	Session *tutoring.Session
	Events  []shared.Event
}

// AbandonSessionHandler handles AbandonSessionCommand.
type AbandonSessionHandler struct {
	deps SessionDeps
}

// NewAbandonSessionHandler creates a new AbandonSessionHandler.
func NewAbandonSessionHandler(deps SessionDeps) *AbandonSessionHandler {
	deps.Logger = orDefault(deps.Logger)
	return &AbandonSessionHandler{deps: deps}
}

// Handle abandons the session and folds a progress note into the profile.
func (h *AbandonSessionHandler) Handle(ctx context.Context, cmd AbandonSessionCommand) (*AbandonSessionResult, error) {
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
	sess, err := loadSession(ctx, h.deps.Sessions, id, cmd.SessionID)
	if err != nil {
		return nil, err
	}

	events, err := h.deps.Controller.Abandon(sess, profile)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("abandon_session: save session: %w", err)
	}
	if err := h.deps.Students.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("abandon_session: save profile: %w", err)
	}
	publish(h.deps.Publisher, h.deps.Logger, events)

	return &AbandonSessionResult{Session: sess, Events: events}, nil
}
