package tutoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/decompose"
	"github.com/alem-hub/socratic-tutor/internal/domain/misconception"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds controller tuning.
type Config struct {
	// FailureBudget is how many consecutive failed classifications are
	// tolerated before the tutor reports itself unavailable.
	FailureBudget int

	// Policy controls how misconceptions are surfaced.
	Policy MisconceptionPolicy

	// HistoryWindow is how many visible utterances go into response prompts.
	HistoryWindow int

	// ResourceLimit caps resource hints offered to a confused learner.
	ResourceLimit int

	// ClassifyTemperature is the sampling temperature for THOUGHT calls.
	// Zero keeps labels stable across retries.
	ClassifyTemperature float64

	// RespondTemperature is the sampling temperature for tutor replies.
	RespondTemperature float64

	// MaxTokens caps the length of a tutor reply. Classification and
	// confirmation calls use their own small limits.
	MaxTokens int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureBudget:       3,
		Policy:              DefaultPolicy,
		HistoryWindow:       6,
		ResourceLimit:       2,
		ClassifyTemperature: 0,
		RespondTemperature:  0.7,
		MaxTokens:           512,
	}
}

// Deps are the collaborators of a Controller. Gateway is required; the rest
// have defaults.
type Deps struct {
	Gateway    completion.Gateway
	Decomposer *decompose.Decomposer
	Tracker    *misconception.Tracker
	Tools      *Toolbox
	Hints      ResourceHints
	Logger     *slog.Logger
}

// Controller drives Socratic dialogue for the tutor cohort.
// It is safe for concurrent use across different sessions; turns of a
// single session must be serialized by the caller.
type Controller struct {
	gateway    completion.Gateway
	decomposer *decompose.Decomposer
	tracker    *misconception.Tracker
	tools      *Toolbox
	hints      ResourceHints
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewController creates a dialogue controller.
func NewController(deps Deps, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.FailureBudget <= 0 {
		cfg.FailureBudget = def.FailureBudget
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.ResourceLimit < 0 {
		cfg.ResourceLimit = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	c := &Controller{
		gateway:    deps.Gateway,
		decomposer: deps.Decomposer,
		tracker:    deps.Tracker,
		tools:      deps.Tools,
		hints:      deps.Hints,
		cfg:        cfg,
		logger:     deps.Logger,
		now:        time.Now,
	}
	if c.decomposer == nil {
		c.decomposer = decompose.New(deps.Gateway)
	}
	if c.tracker == nil {
		c.tracker = misconception.NewTracker(nil)
	}
	if c.tools == nil {
		c.tools = NewToolbox()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Policy returns the misconception policy in effect.
func (c *Controller) Policy() MisconceptionPolicy {
	return c.cfg.Policy
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// StartResult is returned by Start.
type StartResult struct {
	Session  *Session
	Response string
	Events   []shared.Event
}

// Summary closes a completed session.
type Summary struct {
	StepsCompleted  int
	StepsTotal      int
	Turns           int
	ConceptsTouched []string
	Misconceptions  []string
	Text            string
}

// TurnResult is returned by Turn.
type TurnResult struct {
	// Response is the tutor's reply shown to the learner.
	Response string

	// Label is the THOUGHT for this turn.
	Label Label

	// Advanced is true when the turn completed the step in progress.
	Advanced bool

	// Misconception is set when a known misconception was matched.
	Misconception *misconception.Annotation

	// Tools lists tool names used while composing the reply.
	Tools []string

	// Degraded is true when a gateway call failed and a fixed reply was used.
	Degraded bool

	State   State
	Summary *Summary
	Events  []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// START
// ══════════════════════════════════════════════════════════════════════════════

// Start decomposes a problem and opens a session on its first step.
// Decomposition failures fall back to the generic plan.
func (c *Controller) Start(ctx context.Context, profile *student.Profile, problem decompose.Problem) (StartResult, error) {
	if profile == nil {
		return StartResult{}, shared.ErrStudentNotFound
	}
	problem.Statement = strings.TrimSpace(problem.Statement)
	if problem.Statement == "" {
		return StartResult{}, shared.ErrEmptyProblem
	}

	plan, err := c.decomposer.Decompose(ctx, problem)
	if err != nil {
		c.logger.Warn("decomposition failed, using fallback plan",
			"student_id", profile.ID,
			"error", err,
		)
		plan = c.decomposer.Fallback(problem)
	}

	now := c.now()
	sess := NewSession(profile.ID, now)
	sess.Problem = problem.Statement
	sess.Concept = plan.Concept
	sess.PlanSource = plan.Source
	sess.Steps = plan.Steps
	sess.record(SpeakerLearner, PhaseProblem, problem.Statement, now)

	if err := sess.transition(StateStepInProgress, now); err != nil {
		return StartResult{}, err
	}

	first, _ := sess.Step()
	response := c.guard(sess, openingQuestion(first), safeQuestion)
	sess.record(SpeakerTutor, PhaseAction, response, now)

	c.logger.Info("tutoring session started",
		"student_id", profile.ID,
		"session_id", sess.ID,
		"concept", sess.Concept,
		"steps", len(sess.Steps),
		"plan_source", sess.PlanSource,
	)

	return StartResult{
		Session:  sess,
		Response: response,
		Events: []shared.Event{
			shared.NewSessionStartedEvent(string(profile.ID), sess.ID, string(sess.Concept), len(sess.Steps)),
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TURN
// ══════════════════════════════════════════════════════════════════════════════

// Turn processes one learner utterance: THOUGHT (classify), ACTION (reply),
// OBSERVATION (check step completion). The session and profile are mutated
// in place; on ErrTutorUnavailable both remain valid and can be saved.
func (c *Controller) Turn(ctx context.Context, sess *Session, profile *student.Profile, utterance string) (TurnResult, error) {
	if sess == nil {
		return TurnResult{}, shared.ErrSessionNotFound
	}
	if sess.IsClosed() {
		return TurnResult{State: sess.State}, shared.ErrSessionClosed
	}
	if profile == nil || profile.ID != sess.StudentID {
		return TurnResult{State: sess.State}, shared.ErrStudentNotFound
	}
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return TurnResult{State: sess.State}, shared.ErrEmptyUtterance
	}
	if sess.State != StateStepInProgress {
		return TurnResult{State: sess.State}, shared.WrapError("tutoring", "Turn", shared.ErrInvalidState,
			fmt.Sprintf("session is %s", sess.State), nil)
	}

	step, _ := sess.Step()
	now := c.now()
	classifyPrompt := buildClassifyPrompt(sess, step, utterance)
	sess.record(SpeakerLearner, PhaseInput, utterance, now)
	sess.Turns++

	// THOUGHT
	label, err := c.classify(ctx, classifyPrompt)
	if err != nil {
		sess.ConsecutiveFailures++
		c.logger.Warn("classification failed",
			"student_id", sess.StudentID,
			"session_id", sess.ID,
			"failures", sess.ConsecutiveFailures,
			"error", err,
		)
		if sess.ConsecutiveFailures >= c.cfg.FailureBudget {
			return c.unavailable(sess, now), shared.ErrTutorUnavailable
		}
		sess.record(SpeakerTutor, PhaseThought, string(LabelConfused), now)
		response := c.guard(sess, clarifyQuestion, safeQuestion)
		sess.record(SpeakerTutor, PhaseAction, response, now)
		sess.record(SpeakerTutor, PhaseObservation, "classification unavailable, step unchanged", now)
		return TurnResult{
			Response: response,
			Label:    LabelConfused,
			Degraded: true,
			State:    sess.State,
		}, nil
	}
	sess.ConsecutiveFailures = 0

	if IsAnswerSeeking(utterance) {
		label = LabelAnswerSeeking
	} else if _, hit := c.tracker.Detect(utterance, sess.Concept); hit {
		label = LabelMisconception
	}
	sess.record(SpeakerTutor, PhaseThought, string(label), now)

	result := TurnResult{Label: label}

	switch label {
	case LabelMisconception:
		if ann := c.tracker.Observe(profile, utterance, sess.Concept); ann != nil {
			result.Misconception = ann
			sess.noteMisconception(ann.Tag)
			result.Events = append(result.Events, shared.NewMisconceptionDetectedEvent(
				string(sess.StudentID), sess.ID, ann.Tag, string(sess.Concept), ann.Count))
		}
	case LabelOnTrack:
		ok, verr := c.verify(ctx, sess, step, utterance)
		if verr != nil {
			result.Degraded = true
			c.logger.Warn("step verification failed",
				"session_id", sess.ID,
				"step", sess.CurrentStep,
				"error", verr,
			)
		}
		result.Advanced = ok
	}

	// OBSERVATION is decided before the reply so the reply can address the
	// next step; it is recorded after the ACTION.
	observation := fmt.Sprintf("step %d not completed", sess.CurrentStep+1)
	if result.Advanced {
		done := sess.CurrentStep
		if err := sess.markCompleted(now); err != nil {
			return result, err
		}
		observation = fmt.Sprintf("step %d completed, %d remaining", done+1, sess.Remaining())
		result.Events = append(result.Events, shared.NewStepCompletedEvent(
			string(sess.StudentID), sess.ID, done, sess.Remaining()))
	}

	// ACTION
	if sess.State == StateComplete {
		summary := c.summarize(sess)
		result.Summary = &summary
		result.Response = summary.Text
		sess.record(SpeakerTutor, PhaseSummary, summary.Text, now)
		profile.AddNote(student.NoteSessionCompleted, sess.ID, c.noteText(sess, summary), now)
		result.Events = append(result.Events, shared.NewSessionClosedEvent(shared.EventSessionCompleted,
			string(sess.StudentID), sess.ID, string(sess.Concept),
			len(sess.Completed), len(sess.Steps), sess.Turns, sess.Duration()))
		c.logger.Info("tutoring session completed",
			"student_id", sess.StudentID,
			"session_id", sess.ID,
			"turns", sess.Turns,
		)
	} else {
		target, _ := sess.Step()
		text, tools, degraded := c.compose(ctx, respondInput{
			session:    sess,
			profile:    profile,
			step:       target,
			label:      label,
			utterance:  utterance,
			annotation: result.Misconception,
			policy:     c.cfg.Policy,
			advanced:   result.Advanced,
			history:    c.cfg.HistoryWindow,
		}, now)
		result.Response = text
		result.Tools = tools
		result.Degraded = result.Degraded || degraded
		sess.record(SpeakerTutor, PhaseAction, text, now)
	}
	sess.record(SpeakerTutor, PhaseObservation, observation, now)

	result.State = sess.State
	c.logger.Debug("turn processed",
		"session_id", sess.ID,
		"label", label,
		"advanced", result.Advanced,
		"state", sess.State,
	)
	return result, nil
}

func (c *Controller) unavailable(sess *Session, now time.Time) TurnResult {
	msg := shared.ErrTutorUnavailable.Message
	sess.record(SpeakerTutor, PhaseObservation, "tutor unavailable, turn not processed", now)
	c.logger.Error("tutor unavailable",
		"student_id", sess.StudentID,
		"session_id", sess.ID,
		"failures", sess.ConsecutiveFailures,
	)
	return TurnResult{
		Response: msg,
		Label:    LabelConfused,
		Degraded: true,
		State:    sess.State,
		Events: []shared.Event{
			shared.NewTutorUnavailableEvent(string(sess.StudentID), sess.ID, sess.ConsecutiveFailures),
		},
	}
}

func (c *Controller) classify(ctx context.Context, prompt string) (Label, error) {
	var label Label
	res := c.gateway.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeClassify,
		System:      classifySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   16,
		Temperature: c.cfg.ClassifyTemperature,
	}).Then(func(text string) error {
		l, ok := ParseLabel(text)
		if !ok {
			return fmt.Errorf("unrecognized label %q", text)
		}
		label = l
		return nil
	})
	if res.Failed() {
		return LabelConfused, res.Error()
	}
	return label, nil
}

// verify decides whether an on-track utterance completes the step. Steps
// with a pattern or a known answer are checked locally; the rest ask the
// gateway for a yes/no judgement.
func (c *Controller) verify(ctx context.Context, sess *Session, step decompose.Step, utterance string) (bool, error) {
	if step.HasPattern() {
		return step.Matches(utterance), nil
	}
	if step.ExpectedForm != "" {
		return step.Reveals(utterance), nil
	}

	var done bool
	res := c.gateway.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeConfidence,
		System:      confidenceSystemPrompt,
		Prompt:      buildConfidencePrompt(sess, step, utterance),
		MaxTokens:   8,
		Temperature: 0,
	}).Then(func(text string) error {
		word := strings.ToLower(strings.Trim(strings.Fields(text)[0], ".,!\"'"))
		switch word {
		case "yes", "y", "true":
			done = true
		case "no", "n", "false":
			done = false
		default:
			return fmt.Errorf("unrecognized confidence reply %q", text)
		}
		return nil
	})
	if res.Failed() {
		return false, res.Error()
	}
	return done, nil
}

// compose produces the ACTION text. The returned text always ends up being a
// question and never reveals an open answer.
func (c *Controller) compose(ctx context.Context, in respondInput, now time.Time) (string, []string, bool) {
	var used []string
	style := ""
	if in.profile != nil {
		style = in.profile.LearningStyle
	}
	for _, t := range c.tools.pick(in.utterance, in.label, style) {
		out := t.Run(in.utterance)
		in.toolNotes = append(in.toolNotes, out)
		used = append(used, t.Name())
		in.session.Tools = append(in.session.Tools, ToolInvocation{
			Tool:   t.Name(),
			Input:  in.utterance,
			Output: out,
			Step:   in.session.CurrentStep,
			At:     now.UTC(),
		})
	}
	if in.label == LabelConfused && c.hints != nil && c.cfg.ResourceLimit > 0 {
		in.resources = c.hints.Hints(in.session.Concept, c.cfg.ResourceLimit)
	}

	fallback := fallbackQuestion(in.label, in.step, in.annotation)
	if in.advanced {
		fallback = advanceQuestion(in.step)
	}

	degraded := false
	res := c.gateway.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeRespond,
		System:      tutorSystemPrompt,
		Prompt:      buildRespondPrompt(in),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.RespondTemperature,
	})
	text := strings.TrimSpace(res.Text)
	if !res.OK() || text == "" {
		degraded = true
		text = fallback
		c.logger.Warn("response generation failed, using fixed question",
			"session_id", in.session.ID,
			"outcome", res.Outcome.String(),
		)
	}
	if in.label == LabelMisconception && !in.policy.permits(text) {
		text = fallback
	}
	if !strings.Contains(text, "?") {
		text = text + " " + fallback
	}
	return c.guard(in.session, text, fallback, safeQuestion), used, degraded
}

// guard returns the first candidate that reveals no open answer.
func (c *Controller) guard(sess *Session, candidates ...string) string {
	for _, cand := range candidates {
		if cand != "" && !leaks(sess, cand) {
			return cand
		}
	}
	return safeQuestion
}

// leaks reports whether text contains the expected answer of any step that
// is still open.
func leaks(sess *Session, text string) bool {
	for _, step := range sess.protectedSteps() {
		if step.Reveals(text) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSING
// ══════════════════════════════════════════════════════════════════════════════

func (c *Controller) summarize(sess *Session) Summary {
	touched := map[string]bool{string(sess.Concept): true}
	for _, tag := range sess.Misconceptions {
		if sig, ok := c.tracker.Registry().Lookup(tag); ok {
			for _, concept := range sig.Concepts {
				touched[string(concept)] = true
			}
		}
	}
	concepts := make([]string, 0, len(touched))
	for k := range touched {
		if k != "" {
			concepts = append(concepts, k)
		}
	}
	sort.Strings(concepts)

	s := Summary{
		StepsCompleted:  len(sess.Completed),
		StepsTotal:      len(sess.Steps),
		Turns:           sess.Turns,
		ConceptsTouched: concepts,
		Misconceptions:  append([]string(nil), sess.Misconceptions...),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Well done, you worked through all %d steps yourself in %d turns.", s.StepsTotal, s.Turns)
	if len(concepts) > 0 {
		fmt.Fprintf(&b, " Concepts touched: %s.", strings.Join(concepts, ", "))
	}
	if len(s.Misconceptions) > 0 {
		fmt.Fprintf(&b, " Ideas we untangled along the way: %s.", strings.Join(humanize(s.Misconceptions), ", "))
	}
	b.WriteString(" Which step felt hardest, and how would you approach it next time?")
	s.Text = b.String()
	return s
}

func (c *Controller) noteText(sess *Session, s Summary) string {
	text := fmt.Sprintf("Completed a %s problem: %d/%d steps in %d turns", sess.Concept, s.StepsCompleted, s.StepsTotal, s.Turns)
	if len(s.Misconceptions) > 0 {
		text += "; misconceptions addressed: " + strings.Join(s.Misconceptions, ", ")
	}
	return text
}

func humanize(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ReplaceAll(t, "_", " ")
	}
	return out
}

// Abandon closes a session before completion and records how far the learner
// got on the profile.
func (c *Controller) Abandon(sess *Session, profile *student.Profile) ([]shared.Event, error) {
	if sess == nil {
		return nil, shared.ErrSessionNotFound
	}
	if sess.IsClosed() {
		return nil, shared.ErrSessionClosed
	}
	now := c.now()
	if err := sess.transition(StateAbandoned, now); err != nil {
		return nil, err
	}
	if profile != nil {
		profile.AddNote(student.NoteSessionAbandoned, sess.ID,
			fmt.Sprintf("Stopped a %s problem after %d/%d steps in %d turns", sess.Concept, len(sess.Completed), len(sess.Steps), sess.Turns),
			now)
	}
	c.logger.Info("tutoring session abandoned",
		"student_id", sess.StudentID,
		"session_id", sess.ID,
		"completed", len(sess.Completed),
	)
	return []shared.Event{
		shared.NewSessionClosedEvent(shared.EventSessionAbandoned,
			string(sess.StudentID), sess.ID, string(sess.Concept),
			len(sess.Completed), len(sess.Steps), sess.Turns, sess.Duration()),
	}, nil
}

// IsUnavailable reports whether err means the tutor gave up on the gateway.
func IsUnavailable(err error) bool {
	return errors.Is(err, shared.ErrTutorUnavailable)
}
