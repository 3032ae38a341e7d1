package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/memory"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
	fail   error
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.fail
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	store    *memory.Store
	sessions *memory.SessionStore
	locker   *memory.SlotLocker
	events   *recorder
	gateway  *completion.ScriptedGateway
	deps     SessionDeps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		sessions: memory.NewSessionStore(),
		locker:   memory.NewSlotLocker(),
		events:   &recorder{},
		gateway: completion.NewScriptedGateway().
			OnText(completion.PurposeClassify, "on_track").
			OnText(completion.PurposeConfidence, "yes").
			OnText(completion.PurposeRespond, "Good. What would you do next?"),
	}
	f.deps = SessionDeps{
		Students:   f.store,
		Sessions:   f.sessions,
		Locker:     f.locker,
		Controller: tutoring.NewController(tutoring.Deps{Gateway: f.gateway, Logger: quietLogger}, tutoring.DefaultConfig()),
		Publisher:  f.events,
		Logger:     quietLogger,
	}
	return f
}

func (f *fixture) register(t *testing.T, id, cohort string) {
	t.Helper()
	_, err := NewRegisterStudentHandler(f.store, f.events, quietLogger).
		Handle(context.Background(), RegisterStudentCommand{StudentID: id, Cohort: cohort})
	require.NoError(t, err)
}

var sineProblem = StartSessionCommand{
	StudentID: "STU001",
	Problem:   "In a right triangle the side opposite θ is 3 and the hypotenuse is 6. Find sin θ.",
	Concept:   "sine",
	Expected:  "0.5",
}

func TestRegisterStudent(t *testing.T) {
	f := newFixture(t)
	h := NewRegisterStudentHandler(f.store, f.events, quietLogger)

	res, err := h.Handle(context.Background(), RegisterStudentCommand{StudentID: "STU001", Cohort: "A"})
	require.NoError(t, err)
	assert.Equal(t, shared.CohortTutor, res.Profile.Cohort)
	assert.Equal(t, []shared.EventType{shared.EventStudentRegistered}, f.events.types())

	_, err = h.Handle(context.Background(), RegisterStudentCommand{StudentID: "STU001", Cohort: "1"})
	assert.ErrorIs(t, err, shared.ErrStudentAlreadyExists)

	_, err = h.Handle(context.Background(), RegisterStudentCommand{StudentID: "STU002", Cohort: "3"})
	assert.ErrorIs(t, err, shared.ErrInvalidCohort)

	_, err = h.Handle(context.Background(), RegisterStudentCommand{StudentID: "bad id", Cohort: "1"})
	assert.ErrorIs(t, err, shared.ErrInvalidStudentID)
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	f.register(t, "STU002", "2")
	h := NewStartSessionHandler(f.deps)

	res, err := h.Handle(context.Background(), sineProblem)
	require.NoError(t, err)
	assert.Equal(t, tutoring.StateStepInProgress, res.Session.State)
	assert.Contains(t, res.Response, "?")

	stored, err := f.sessions.Active(context.Background(), "STU001")
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, stored.ID)

	_, err = h.Handle(context.Background(), sineProblem)
	assert.ErrorIs(t, err, shared.ErrSessionActive)

	chat := sineProblem
	chat.StudentID = "STU002"
	_, err = h.Handle(context.Background(), chat)
	assert.ErrorIs(t, err, shared.ErrWrongCohortSession)

	missing := sineProblem
	missing.StudentID = "STU404"
	_, err = h.Handle(context.Background(), missing)
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)
}

func TestTakeTurn_CompletesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	_, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	h := NewTakeTurnHandler(f.deps)
	utterances := []string{
		"The opposite side is 3 and the hypotenuse is 6",
		"Sine is opposite over hypotenuse",
		"So sin θ = 3/6",
		"That means sin θ = 0.5",
	}
	var last *TakeTurnResult
	for _, u := range utterances {
		last, err = h.Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: u})
		require.NoError(t, err)
	}
	assert.Equal(t, tutoring.StateComplete, last.Session.State)

	stored, err := f.sessions.Get(context.Background(), last.Session.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())

	profile, err := f.store.GetProfile(context.Background(), "STU001")
	require.NoError(t, err)
	require.Len(t, profile.ProgressNotes, 1)
	assert.Equal(t, student.NoteSessionCompleted, profile.ProgressNotes[0].Kind)

	assert.Contains(t, f.events.types(), shared.EventSessionCompleted)

	// A closed session takes no more turns and no longer counts as active.
	_, err = h.Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: "again"})
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestTakeTurn_RecordsMisconception(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	_, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	res, err := NewTakeTurnHandler(f.deps).Handle(context.Background(), TakeTurnCommand{
		StudentID: "STU001",
		Utterance: "sin is adjacent over hypotenuse",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Turn.Misconception)

	profile, err := f.store.GetProfile(context.Background(), "STU001")
	require.NoError(t, err)
	require.Len(t, profile.Misconceptions, 1)
	assert.Equal(t, res.Turn.Misconception.Tag, profile.Misconceptions[0].Tag)
	assert.Contains(t, f.events.types(), shared.EventMisconceptionDetected)
}

func TestTakeTurn_BusySlot(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	_, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	release, err := f.locker.TryLock(context.Background(), "STU001", time.Minute)
	require.NoError(t, err)

	_, err = NewTakeTurnHandler(f.deps).Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: "hi"})
	assert.ErrorIs(t, err, shared.ErrSessionBusy)

	release()
	_, err = NewTakeTurnHandler(f.deps).Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: "hi"})
	assert.NoError(t, err)
}

func TestTakeTurn_UnavailableStillSaves(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	down := completion.GatewayFunc(func(context.Context, completion.Request) completion.Result {
		return completion.TransportFailure(errors.New("connection refused"))
	})
	f.deps.Controller = tutoring.NewController(tutoring.Deps{Gateway: down, Logger: quietLogger}, tutoring.DefaultConfig())

	start, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	h := NewTakeTurnHandler(f.deps)
	for i := 0; i < 2; i++ {
		_, err = h.Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: "where do I begin"})
		require.NoError(t, err)
	}
	res, err := h.Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", SessionID: start.Session.ID, Utterance: "where do I begin"})
	require.ErrorIs(t, err, shared.ErrTutorUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, shared.ErrTutorUnavailable.Message, res.Turn.Response)

	stored, err := f.sessions.Get(context.Background(), start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Turns)
	assert.Equal(t, 3, stored.ConsecutiveFailures)
	assert.Contains(t, f.events.types(), shared.EventTutorUnavailable)
}

func TestTakeTurn_ForeignSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	f.register(t, "STU003", "1")
	start, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	_, err = NewTakeTurnHandler(f.deps).Handle(context.Background(), TakeTurnCommand{
		StudentID: "STU003", SessionID: start.Session.ID, Utterance: "hello",
	})
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	_, err = NewTakeTurnHandler(f.deps).Handle(context.Background(), TakeTurnCommand{StudentID: "STU001", Utterance: "  "})
	assert.ErrorIs(t, err, shared.ErrEmptyUtterance)
}

func TestAbandonSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	start, err := NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	require.NoError(t, err)

	h := NewAbandonSessionHandler(f.deps)
	res, err := h.Handle(context.Background(), AbandonSessionCommand{StudentID: "STU001"})
	require.NoError(t, err)
	assert.Equal(t, tutoring.StateAbandoned, res.Session.State)

	profile, err := f.store.GetProfile(context.Background(), "STU001")
	require.NoError(t, err)
	require.Len(t, profile.ProgressNotes, 1)
	assert.Equal(t, student.NoteSessionAbandoned, profile.ProgressNotes[0].Kind)

	_, err = h.Handle(context.Background(), AbandonSessionCommand{StudentID: "STU001", SessionID: start.Session.ID})
	assert.ErrorIs(t, err, shared.ErrSessionClosed)

	// A new session can start once the old one is closed.
	_, err = NewStartSessionHandler(f.deps).Handle(context.Background(), sineProblem)
	assert.NoError(t, err)
}

func TestSubmitAssessment(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	h := NewSubmitAssessmentHandler(f.store, nil, nil, f.events, quietLogger, SubmitAssessmentConfig{})

	res, err := h.Handle(context.Background(), SubmitAssessmentCommand{
		StudentID: "STU001",
		Kind:      "pre",
		Inputs: []assessment.AnswerInput{
			{QuestionID: "q1", Expected: "0.5", Submitted: "0.5", Concept: "sine"},
			{QuestionID: "q2", Expected: "30°", Submitted: "60", Concept: "inverse"},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Record.Score(), 1e-12)
	assert.Equal(t, assessment.SourceFallback, res.Rating.Source)

	records, err := f.store.ListAssessments(context.Background(), "STU001", assessment.KindPre)
	require.NoError(t, err)
	require.Len(t, records, 1)

	ratings, err := f.store.ListRatings(context.Background(), "STU001")
	require.NoError(t, err)
	require.Len(t, ratings, 1)

	profile, err := f.store.GetProfile(context.Background(), "STU001")
	require.NoError(t, err)
	assert.Equal(t, []string{"inverse"}, profile.WeakAreas)
	assert.Equal(t, []string{"sine"}, profile.StrongAreas)
	assert.Equal(t, student.NoteAssessment, profile.ProgressNotes[len(profile.ProgressNotes)-1].Kind)
	assert.Contains(t, f.events.types(), shared.EventAssessmentSubmitted)

	_, err = h.Handle(context.Background(), SubmitAssessmentCommand{StudentID: "STU001", Kind: "midterm"})
	assert.ErrorIs(t, err, shared.ErrInvalidAssessmentKey)
}

func TestSubmitAssessment_BankGradingWithAnalysis(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	f.gateway.OnText(completion.PurposeAnalyze, `{"weak_areas":["unit circle"],"strong_areas":[],"difficulty_level":"Hard","detailed_feedback":"Nice work"}`)
	h := NewSubmitAssessmentHandler(f.store, nil, assessment.NewAnalyzer(f.gateway), f.events, quietLogger,
		SubmitAssessmentConfig{Analyze: true})

	bank := assessment.DefaultBank()
	answers := map[string]string{}
	for _, q := range bank.ForKind(assessment.KindFinal) {
		answers[q.ID] = q.Expected
	}
	res, err := h.Handle(context.Background(), SubmitAssessmentCommand{StudentID: "STU001", Kind: "final", Answers: answers})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Record.Score(), 1e-12)
	assert.Equal(t, assessment.SourceModel, res.Rating.Source)
	assert.Equal(t, shared.DifficultyHard, res.Profile.Difficulty)
}

func TestAskQuestion(t *testing.T) {
	f := newFixture(t)
	f.register(t, "STU001", "1")
	f.register(t, "STU002", "2")
	f.gateway.OnText(completion.PurposeAnswer, "sin 30° is 1/2.")
	agent := qa.NewAgent(qa.AgentConfig{Gateway: f.gateway, History: memory.NewHistory(), Logger: quietLogger})
	h := NewAskQuestionHandler(f.store, agent, f.locker, 0, quietLogger)

	res, err := h.Handle(context.Background(), AskQuestionCommand{StudentID: "STU002", Question: "What is sin 30°?"})
	require.NoError(t, err)
	assert.Equal(t, "sin 30° is 1/2.", res.Answer.Text)

	profile, err := f.store.GetProfile(context.Background(), "STU002")
	require.NoError(t, err)
	require.Len(t, profile.ProgressNotes, 1)
	assert.Equal(t, student.NoteChat, profile.ProgressNotes[0].Kind)

	_, err = h.Handle(context.Background(), AskQuestionCommand{StudentID: "STU001", Question: "What is sin 30°?"})
	assert.ErrorIs(t, err, shared.ErrWrongCohortChat)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.events.fail = errors.New("bus closed")
	_, err := NewRegisterStudentHandler(f.store, f.events, quietLogger).
		Handle(context.Background(), RegisterStudentCommand{StudentID: "STU001", Cohort: "1"})
	assert.NoError(t, err)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 3))
	assert.Equal(t, "ab…", clip("abc", 2))
	assert.Equal(t, "θθ…", clip("θθθ", 2))
}
