// Package tutoring implements the Socratic dialogue controller: a
// THOUGHT → ACTION → OBSERVATION loop over an explicit session state machine.
package tutoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/socratic-tutor/internal/domain/decompose"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// State is the lifecycle state of a tutoring session.
type State string

const (
	StateAwaitingProblem State = "AWAITING_PROBLEM"
	StateStepInProgress  State = "STEP_IN_PROGRESS"
	StateStepVerified    State = "STEP_VERIFIED"
	StateComplete        State = "SESSION_COMPLETE"
	StateAbandoned       State = "SESSION_ABANDONED"
)

var transitions = map[State][]State{
	StateAwaitingProblem: {StateStepInProgress, StateAbandoned},
	StateStepInProgress:  {StateStepVerified, StateAbandoned},
	StateStepVerified:    {StateStepInProgress, StateComplete, StateAbandoned},
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateAbandoned
}

// CanTransitionTo reports whether next is reachable from s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSCRIPT
// ══════════════════════════════════════════════════════════════════════════════

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerLearner Speaker = "learner"
	SpeakerTutor   Speaker = "tutor"
)

// Phase tags a transcript entry with the part of the turn it belongs to.
type Phase string

const (
	PhaseProblem     Phase = "problem"
	PhaseInput       Phase = "input"
	PhaseThought     Phase = "thought"
	PhaseAction      Phase = "action"
	PhaseObservation Phase = "observation"
	PhaseSummary     Phase = "summary"
)

// Utterance is one transcript entry. Thought and observation entries are
// internal and never shown to the learner verbatim.
type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Phase   Phase     `json:"phase"`
	At      time.Time `json:"at"`
}

// ToolInvocation records an external tool used while composing a response.
type ToolInvocation struct {
	Tool   string    `json:"tool"`
	Input  string    `json:"input"`
	Output string    `json:"output"`
	Step   int       `json:"step"`
	At     time.Time `json:"at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session is one learner working through one problem. It is owned by a single
// student for its whole life.
type Session struct {
	ID         string            `json:"id"`
	StudentID  shared.StudentID  `json:"student_id"`
	Problem    string            `json:"problem"`
	Concept    shared.ConceptTag `json:"concept"`
	PlanSource string            `json:"plan_source"`

	Steps       []decompose.Step `json:"steps"`
	CurrentStep int              `json:"current_step"`
	Completed   []int            `json:"completed"`

	State      State            `json:"state"`
	Transcript []Utterance      `json:"transcript"`
	Tools      []ToolInvocation `json:"tools"`

	// Tags of misconceptions surfaced during this session, in order.
	Misconceptions []string `json:"misconceptions,omitempty"`

	Turns               int `json:"turns"`
	ConsecutiveFailures int `json:"consecutive_failures"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// NewSession creates an empty session awaiting a problem.
func NewSession(studentID shared.StudentID, now time.Time) *Session {
	return &Session{
		ID:        uuid.New().String(),
		StudentID: studentID,
		State:     StateAwaitingProblem,
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) transition(next State, now time.Time) error {
	if !s.State.CanTransitionTo(next) {
		return shared.WrapError("tutoring", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("%s -> %s", s.State, next), nil)
	}
	s.State = next
	s.UpdatedAt = now.UTC()
	if next.IsTerminal() {
		s.EndedAt = s.UpdatedAt
	}
	return nil
}

// IsClosed reports whether the session reached a terminal state.
func (s *Session) IsClosed() bool {
	return s.State.IsTerminal()
}

// Step returns the step the learner is on.
func (s *Session) Step() (decompose.Step, bool) {
	if s.CurrentStep < 0 || s.CurrentStep >= len(s.Steps) {
		return decompose.Step{}, false
	}
	return s.Steps[s.CurrentStep], true
}

// IsCompleted reports whether step index i is done.
func (s *Session) IsCompleted(i int) bool {
	idx := sort.SearchInts(s.Completed, i)
	return idx < len(s.Completed) && s.Completed[idx] == i
}

// AllCompleted reports whether every step index is in the completed set.
func (s *Session) AllCompleted() bool {
	if len(s.Steps) == 0 {
		return false
	}
	for i := range s.Steps {
		if !s.IsCompleted(i) {
			return false
		}
	}
	return true
}

// Remaining returns how many steps are not completed.
func (s *Session) Remaining() int {
	n := 0
	for i := range s.Steps {
		if !s.IsCompleted(i) {
			n++
		}
	}
	return n
}

// markCompleted adds the current step to the completed set and moves the
// cursor to the next open step. The cursor never moves backwards.
func (s *Session) markCompleted(now time.Time) error {
	if err := s.transition(StateStepVerified, now); err != nil {
		return err
	}
	if !s.IsCompleted(s.CurrentStep) {
		s.Completed = append(s.Completed, s.CurrentStep)
		sort.Ints(s.Completed)
	}
	if s.AllCompleted() {
		return s.transition(StateComplete, now)
	}
	for next := s.CurrentStep + 1; next < len(s.Steps); next++ {
		if !s.IsCompleted(next) {
			s.CurrentStep = next
			break
		}
	}
	return s.transition(StateStepInProgress, now)
}

// protectedSteps returns the steps with an expected answer that are not
// completed yet.
func (s *Session) protectedSteps() []decompose.Step {
	var out []decompose.Step
	for i, step := range s.Steps {
		if step.ExpectedForm != "" && !s.IsCompleted(i) {
			out = append(out, step)
		}
	}
	return out
}

func (s *Session) record(speaker Speaker, phase Phase, text string, now time.Time) {
	s.Transcript = append(s.Transcript, Utterance{Speaker: speaker, Text: text, Phase: phase, At: now.UTC()})
	s.UpdatedAt = now.UTC()
}

func (s *Session) noteMisconception(tag string) {
	for _, t := range s.Misconceptions {
		if t == tag {
			return
		}
	}
	s.Misconceptions = append(s.Misconceptions, tag)
}

// Visible returns the transcript entries a learner may see.
func (s *Session) Visible() []Utterance {
	var out []Utterance
	for _, u := range s.Transcript {
		switch u.Phase {
		case PhaseProblem, PhaseInput, PhaseAction, PhaseSummary:
			out = append(out, u)
		}
	}
	return out
}

// Duration returns how long the session has been running or ran.
func (s *Session) Duration() time.Duration {
	end := s.UpdatedAt
	if !s.EndedAt.IsZero() {
		end = s.EndedAt
	}
	return end.Sub(s.StartedAt)
}
