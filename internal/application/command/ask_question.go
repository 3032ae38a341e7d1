package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// AskQuestionCommand is a chat-interface question from a control-cohort student.
type AskQuestionCommand struct {
	StudentID string
	Question  string
}

// AskQuestionResult contains the answer.
type AskQuestionResult struct {
	Answer qa.Answer
}

// AskQuestionHandler handles AskQuestionCommand.
type AskQuestionHandler struct {
	students student.Repository
	agent    *qa.Agent
	locker   tutoring.SlotLocker
	slotTTL  time.Duration
	logger   *slog.Logger
}

// NewAskQuestionHandler creates a new AskQuestionHandler. locker may be nil.
func NewAskQuestionHandler(students student.Repository, agent *qa.Agent, locker tutoring.SlotLocker, slotTTL time.Duration, logger *slog.Logger) *AskQuestionHandler {
	return &AskQuestionHandler{
		students: students,
		agent:    agent,
		locker:   locker,
		slotTTL:  slotTTL,
		logger:   orDefault(logger),
	}
}

// Handle answers the question and logs the exchange on the profile.
func (h *AskQuestionHandler) Handle(ctx context.Context, cmd AskQuestionCommand) (*AskQuestionResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}

	release, err := acquire(ctx, h.locker, id, h.slotTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	profile, err := h.students.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile.Cohort != shared.CohortChat {
		return nil, shared.ErrWrongCohortChat
	}

	answer, err := h.agent.Ask(ctx, id, cmd.Question)
	if err != nil {
		return nil, err
	}

	profile.AddNote(student.NoteChat, "", "Asked: "+clip(answer.Question, 120), answer.At)
	if err := h.students.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("ask_question: save profile: %w", err)
	}
	return &AskQuestionResult{Answer: answer}, nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
