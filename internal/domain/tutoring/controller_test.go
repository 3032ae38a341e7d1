package tutoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/decompose"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newProfile(t *testing.T) *student.Profile {
	t.Helper()
	p, err := student.NewProfile(student.NewProfileParams{ID: "STU001", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	return p
}

func newController(gw completion.Gateway, cfg Config) *Controller {
	return NewController(Deps{Gateway: gw, Logger: quietLogger}, cfg)
}

var sineProblem = decompose.Problem{
	Statement: "In a right triangle the side opposite θ is 3 and the hypotenuse is 6. Find sin θ.",
	Concept:   "sine",
	Expected:  "0.5",
}

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func TestStart_UsesTemplatePlan(t *testing.T) {
	ctrl := newController(completion.NewScriptedGateway(), DefaultConfig())
	profile := newProfile(t)

	res, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	sess := res.Session
	assert.Equal(t, StateStepInProgress, sess.State)
	assert.Equal(t, shared.ConceptTag("sine"), sess.Concept)
	assert.Equal(t, "template", sess.PlanSource)
	assert.Len(t, sess.Steps, 4)
	assert.Equal(t, 0, sess.CurrentStep)
	assert.Contains(t, res.Response, "?")
	assert.False(t, leaks(sess, res.Response))
	assert.Equal(t, []shared.EventType{shared.EventSessionStarted}, eventTypes(res.Events))
}

func TestStart_FallsBackWhenDecompositionFails(t *testing.T) {
	ctrl := newController(completion.NewScriptedGateway(), DefaultConfig())

	res, err := ctrl.Start(context.Background(), newProfile(t), decompose.Problem{
		Statement: "A ladder leans against a wall. How high does it reach?",
		Concept:   "ladders",
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Session.PlanSource)
	assert.NotEmpty(t, res.Session.Steps)
}

func TestStart_RejectsEmptyProblem(t *testing.T) {
	ctrl := newController(completion.NewScriptedGateway(), DefaultConfig())
	_, err := ctrl.Start(context.Background(), newProfile(t), decompose.Problem{Statement: "   "})
	assert.ErrorIs(t, err, shared.ErrEmptyProblem)
}

func TestTurn_AnswerSeekingIsRedirected(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track").
		OnText(completion.PurposeRespond, "Fine, the answer is 0.5.")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	res, err := ctrl.Turn(context.Background(), start.Session, profile, "just tell me the answer")
	require.NoError(t, err)

	assert.Equal(t, LabelAnswerSeeking, res.Label)
	assert.False(t, res.Advanced)
	assert.Contains(t, res.Response, "?")
	assert.NotContains(t, res.Response, "0.5")
	assert.NotContains(t, res.Response, ".5")
	assert.Equal(t, StateStepInProgress, res.State)
	assert.Equal(t, 0, start.Session.CurrentStep)
}

func TestTurn_OnTrackFlowCompletesSession(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track").
		OnText(completion.PurposeConfidence, "yes").
		OnText(completion.PurposeRespond, "Good. What would you do next?")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)
	sess := start.Session

	utterances := []string{
		"The opposite side is 3 and the hypotenuse is 6",
		"Sine is opposite over hypotenuse",
		"So sin θ = 3/6",
		"That means sin θ = 0.5",
	}

	var last TurnResult
	for i, u := range utterances {
		last, err = ctrl.Turn(context.Background(), sess, profile, u)
		require.NoError(t, err, "turn %d", i)
		assert.Equal(t, LabelOnTrack, last.Label, "turn %d", i)
		assert.NotEqual(t, LabelConfused, last.Label)
		assert.True(t, last.Advanced, "turn %d should complete step %d", i, i)
	}

	assert.Equal(t, StateComplete, sess.State)
	assert.True(t, sess.AllCompleted())
	assert.Empty(t, profile.Misconceptions)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 4, last.Summary.StepsCompleted)
	assert.Contains(t, last.Summary.ConceptsTouched, "sine")
	assert.Contains(t, eventTypes(last.Events), shared.EventSessionCompleted)

	require.Len(t, profile.ProgressNotes, 1)
	assert.Equal(t, student.NoteSessionCompleted, profile.ProgressNotes[0].Kind)
	assert.Equal(t, sess.ID, profile.ProgressNotes[0].SessionID)

	for _, u := range sess.Transcript {
		if u.Phase == PhaseThought {
			assert.NotEqual(t, string(LabelConfused), u.Text)
		}
	}
}

func TestTurn_CursorNeverMovesBackwards(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track", "confused", "on_track").
		OnText(completion.PurposeRespond, "What do you see?")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)
	sess := start.Session

	_, err = ctrl.Turn(context.Background(), sess, profile, "opposite is 3, hypotenuse is 6")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentStep)

	res, err := ctrl.Turn(context.Background(), sess, profile, "hmm I'm lost")
	require.NoError(t, err)
	assert.Equal(t, LabelConfused, res.Label)
	assert.Equal(t, 1, sess.CurrentStep)
	assert.Equal(t, []int{0}, sess.Completed)
}

func TestTurn_MisconceptionUnderSocraticPolicy(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track").
		OnText(completion.PurposeRespond, "That's wrong, sine uses the opposite side.")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	res, err := ctrl.Turn(context.Background(), start.Session, profile, "sin is adjacent over hypotenuse")
	require.NoError(t, err)

	assert.Equal(t, LabelMisconception, res.Label)
	require.NotNil(t, res.Misconception)
	assert.Equal(t, "sine_uses_adjacent", res.Misconception.Tag)
	assert.True(t, res.Misconception.FirstTime)
	assert.Equal(t, res.Misconception.Probe, res.Response)
	assert.True(t, profile.HasMisconception("sine_uses_adjacent"))
	assert.Equal(t, []string{"sine_uses_adjacent"}, start.Session.Misconceptions)
	assert.Contains(t, eventTypes(res.Events), shared.EventMisconceptionDetected)

	// Seen again: count grows, no duplicate entry.
	res, err = ctrl.Turn(context.Background(), start.Session, profile, "sine = adjacent / hypotenuse")
	require.NoError(t, err)
	require.NotNil(t, res.Misconception)
	assert.Equal(t, 2, res.Misconception.Count)
	assert.Len(t, profile.Misconceptions, 1)
}

func TestTurn_MisconceptionUnderGentleReveal(t *testing.T) {
	reply := "It looks like two ideas might be mixed up. Which side does the angle look across at?"
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "misconception_signal").
		OnText(completion.PurposeRespond, reply)
	ctrl := newController(gw, Config{Policy: PolicyGentleReveal})
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	res, err := ctrl.Turn(context.Background(), start.Session, profile, "sin is adjacent over hypotenuse")
	require.NoError(t, err)
	assert.Equal(t, reply, res.Response)
}

func TestTurn_UnparseableClassificationFallsBackToConfused(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "the student seems fine I guess").
		OnText(completion.PurposeRespond, "What do you see?")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	res, err := ctrl.Turn(context.Background(), start.Session, profile, "opposite is 3 and hypotenuse is 6")
	require.NoError(t, err)
	assert.Equal(t, LabelConfused, res.Label)
	assert.True(t, res.Degraded)
	assert.False(t, res.Advanced)
	assert.Equal(t, clarifyQuestion, res.Response)
	assert.Equal(t, 1, start.Session.ConsecutiveFailures)
	assert.Equal(t, 0, gw.CallCount(completion.PurposeRespond))
}

func TestTurn_TutorUnavailableAfterFailureBudget(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	gw := completion.GatewayFunc(func(ctx context.Context, req completion.Request) completion.Result {
		if down.Load() {
			return completion.TransportFailure(errors.New("connection refused"))
		}
		switch req.Purpose {
		case completion.PurposeClassify:
			return completion.Success("confused")
		default:
			return completion.Success("What do you already know?")
		}
	})
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)
	sess := start.Session

	for i := 0; i < 2; i++ {
		res, err := ctrl.Turn(context.Background(), sess, profile, "where do I begin")
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, LabelConfused, res.Label)
	}

	res, err := ctrl.Turn(context.Background(), sess, profile, "where do I begin")
	require.ErrorIs(t, err, shared.ErrTutorUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, shared.ErrTutorUnavailable.Message, res.Response)
	assert.Equal(t, []shared.EventType{shared.EventTutorUnavailable}, eventTypes(res.Events))

	// The session survives and can be resumed.
	assert.False(t, sess.IsClosed())
	assert.Equal(t, StateStepInProgress, sess.State)
	assert.Equal(t, 3, sess.Turns)

	down.Store(false)
	res, err = ctrl.Turn(context.Background(), sess, profile, "where do I begin")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 0, sess.ConsecutiveFailures)
}

func TestTurn_ConfidenceCheckForStepsWithoutPattern(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track").
		OnText(completion.PurposeConfidence, "maybe").
		OnText(completion.PurposeRespond, "What goes on each side of the equation?")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)
	sess := start.Session

	for _, u := range []string{"opposite is 3 and hypotenuse is 6", "sine is opposite over hypotenuse"} {
		_, err := ctrl.Turn(context.Background(), sess, profile, u)
		require.NoError(t, err)
	}
	require.Equal(t, 2, sess.CurrentStep)

	res, err := ctrl.Turn(context.Background(), sess, profile, "I'd write sin θ = 3/6")
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, gw.CallCount(completion.PurposeConfidence))
}

func TestTurn_NeverRevealsOpenAnswer(t *testing.T) {
	leaky := []string{
		"The answer is 0.5.",
		"It is .5, isn't it?",
		"Think of 0.5 degrees?",
		"sin θ = 0.5°",
		"Could it be 0.5?",
	}
	for _, reply := range leaky {
		t.Run(reply, func(t *testing.T) {
			gw := completion.NewScriptedGateway().
				OnText(completion.PurposeClassify, "confused").
				OnText(completion.PurposeRespond, reply)
			ctrl := newController(gw, DefaultConfig())
			profile := newProfile(t)

			start, err := ctrl.Start(context.Background(), profile, sineProblem)
			require.NoError(t, err)

			res, err := ctrl.Turn(context.Background(), start.Session, profile, "I don't get it")
			require.NoError(t, err)
			assert.NotRegexp(t, `(^|[^0-9])0?\.5([^0-9]|$)`, res.Response)
			assert.Contains(t, res.Response, "?")
		})
	}
}

func TestTurn_SamplingSettings(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "confused").
		OnText(completion.PurposeRespond, "Which side is across from θ?")
	cfg := DefaultConfig()
	cfg.RespondTemperature = 0.3
	cfg.MaxTokens = 200
	ctrl := newController(gw, cfg)
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)
	_, err = ctrl.Turn(context.Background(), start.Session, profile, "I don't get it")
	require.NoError(t, err)

	byPurpose := map[completion.Purpose]completion.Request{}
	for _, req := range gw.Calls() {
		byPurpose[req.Purpose] = req
	}
	require.Contains(t, byPurpose, completion.PurposeClassify)
	require.Contains(t, byPurpose, completion.PurposeRespond)
	assert.Zero(t, byPurpose[completion.PurposeClassify].Temperature)
	assert.Equal(t, 16, byPurpose[completion.PurposeClassify].MaxTokens)
	assert.InDelta(t, 0.3, byPurpose[completion.PurposeRespond].Temperature, 1e-9)
	assert.Equal(t, 200, byPurpose[completion.PurposeRespond].MaxTokens)
}

func TestTurn_GraphToolForVisualLearner(t *testing.T) {
	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "confused").
		OnText(completion.PurposeRespond, "Picture the wave. Where does it start?")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	res, err := ctrl.Turn(context.Background(), start.Session, profile, "can you graph sin for me")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, res.Tools)
	require.Len(t, start.Session.Tools, 1)
	assert.Contains(t, start.Session.Tools[0].Output, "sine graph")

	calls := gw.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, completion.PurposeRespond, last.Purpose)
	assert.Contains(t, last.Prompt, "Reference:")
}

func TestTurn_Errors(t *testing.T) {
	gw := completion.NewScriptedGateway().OnText(completion.PurposeClassify, "on_track")
	ctrl := newController(gw, DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	_, err = ctrl.Turn(context.Background(), start.Session, profile, "  ")
	assert.ErrorIs(t, err, shared.ErrEmptyUtterance)

	other, err := student.NewProfile(student.NewProfileParams{ID: "STU002", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	_, err = ctrl.Turn(context.Background(), start.Session, other, "hello")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	_, err = ctrl.Turn(context.Background(), nil, profile, "hello")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestAbandon(t *testing.T) {
	ctrl := newController(completion.NewScriptedGateway(), DefaultConfig())
	profile := newProfile(t)

	start, err := ctrl.Start(context.Background(), profile, sineProblem)
	require.NoError(t, err)

	events, err := ctrl.Abandon(start.Session, profile)
	require.NoError(t, err)
	assert.Equal(t, []shared.EventType{shared.EventSessionAbandoned}, eventTypes(events))
	assert.Equal(t, StateAbandoned, start.Session.State)
	assert.False(t, start.Session.EndedAt.IsZero())

	require.Len(t, profile.ProgressNotes, 1)
	assert.Equal(t, student.NoteSessionAbandoned, profile.ProgressNotes[0].Kind)
	assert.True(t, strings.Contains(profile.ProgressNotes[0].Text, "0/4"))

	_, err = ctrl.Turn(context.Background(), start.Session, profile, "hello again")
	assert.ErrorIs(t, err, shared.ErrSessionClosed)

	_, err = ctrl.Abandon(start.Session, profile)
	assert.ErrorIs(t, err, shared.ErrSessionClosed)
}

func TestIdentityTool(t *testing.T) {
	tool := IdentityTool{}
	assert.True(t, tool.Wants("is sin²θ + cos²θ = 2?", LabelMisconception, ""))
	assert.False(t, tool.Wants("just tell me the answer", LabelAnswerSeeking, ""))

	assert.Contains(t, tool.Run("sin^2 x + cos^2 x = 1"), "holds at every sampled angle")
	assert.Contains(t, tool.Run("sin²θ + cos²θ = 2"), "fails at 0°, 30°, 45°, 60°")
	assert.Contains(t, tool.Run("sin²θ - cos²θ = 0"), "fails at 0°, 30°, 60°")
	assert.Contains(t, tool.Run("what is an identity"), "Pythagorean theorem")
}
