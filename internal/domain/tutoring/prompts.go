package tutoring

import (
	"fmt"
	"strings"

	"github.com/alem-hub/socratic-tutor/internal/domain/decompose"
	"github.com/alem-hub/socratic-tutor/internal/domain/misconception"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

const tutorSystemPrompt = `You are a Socratic mathematics tutor for trigonometry.
Rules:
- Never state the answer to the problem or to the current step.
- Respond with guiding questions, one idea at a time.
- Keep replies short: at most three sentences, ending with a question.
- Build on what the student already said.`

const classifySystemPrompt = `You classify a student's message during a tutoring session.
Reply with exactly one label and nothing else.`

const confidenceSystemPrompt = `You check whether a student has completed a step of a math problem.
Reply with exactly one word: yes or no.`

// ─────────────────────────────────────────────────────────────────────────────
// Generic questions used when the gateway cannot help. None of them contain
// digits, so they can never give away a numeric answer.
// ─────────────────────────────────────────────────────────────────────────────

const (
	clarifyQuestion = "I want to make sure I follow your thinking. Can you tell me, in your own words, what you are trying to do right now?"
	safeQuestion    = "What do you think the next move should be, and what makes you think so?"
)

func openingQuestion(step decompose.Step) string {
	return fmt.Sprintf("Let's work through this together. First goal: %s. What do you notice in the problem that helps with that?",
		lowerFirst(step.Description))
}

func fallbackQuestion(label Label, step decompose.Step, ann *misconception.Annotation) string {
	goal := lowerFirst(step.Description)
	switch label {
	case LabelOnTrack:
		return fmt.Sprintf("Good thinking. How would you %s?", goal)
	case LabelAnswerSeeking:
		return fmt.Sprintf("I can't hand you the answer, but you are closer than you think. What do you already know that could help you %s?", goal)
	case LabelMisconception:
		if ann != nil && ann.Probe != "" {
			return ann.Probe
		}
		return "Let's test that idea. What would it predict for a triangle you already know well, and does that match?"
	default:
		return fmt.Sprintf("Let's take a smaller step. Before we %s, what do you already know about the parts of this problem?", goal)
	}
}

func advanceQuestion(next decompose.Step) string {
	return fmt.Sprintf("Nice work, that step is done. Next: %s. Where would you start?", lowerFirst(next.Description))
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ─────────────────────────────────────────────────────────────────────────────
// Prompt builders
// ─────────────────────────────────────────────────────────────────────────────

func buildClassifyPrompt(s *Session, step decompose.Step, utterance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", s.Problem)
	fmt.Fprintf(&b, "Current step goal: %s\n", step.Description)
	writeHistory(&b, s, 4)
	fmt.Fprintf(&b, "Student's latest message: %q\n\n", utterance)
	b.WriteString("Labels:\n")
	b.WriteString("- on_track: the student is making progress toward the step goal\n")
	b.WriteString("- confused: the student is lost or unsure what to do\n")
	b.WriteString("- answer_seeking: the student asks to be told the answer\n")
	b.WriteString("- misconception_signal: the student states a mathematically wrong belief\n")
	b.WriteString("Label:")
	return b.String()
}

func buildConfidencePrompt(s *Session, step decompose.Step, utterance string) string {
	return fmt.Sprintf("Problem: %s\nStep goal: %s\nStudent said: %q\nHas the student completed this step? Answer yes or no.",
		s.Problem, step.Description, utterance)
}

type respondInput struct {
	session    *Session
	profile    *student.Profile
	step       decompose.Step
	label      Label
	utterance  string
	annotation *misconception.Annotation
	policy     MisconceptionPolicy
	advanced   bool
	toolNotes  []string
	resources  []string
	history    int
}

func buildRespondPrompt(in respondInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", in.session.Problem)
	fmt.Fprintf(&b, "Step %d of %d: %s\n", in.session.CurrentStep+1, len(in.session.Steps), in.step.Description)

	if p := in.profile; p != nil {
		fmt.Fprintf(&b, "Student level: %s. Preferred style: %s.\n", p.Difficulty, p.LearningStyle)
		if len(p.WeakAreas) > 0 {
			fmt.Fprintf(&b, "Weak areas: %s.\n", strings.Join(p.WeakAreas, ", "))
		}
		if len(p.Misconceptions) > 0 {
			tags := make([]string, 0, len(p.Misconceptions))
			for _, m := range p.Misconceptions {
				tags = append(tags, m.Tag)
			}
			fmt.Fprintf(&b, "Known misconceptions: %s.\n", strings.Join(tags, ", "))
		}
	}
	for _, note := range in.toolNotes {
		fmt.Fprintf(&b, "Reference: %s\n", note)
	}
	if len(in.resources) > 0 {
		fmt.Fprintf(&b, "Resources you may suggest: %s\n", strings.Join(in.resources, "; "))
	}
	writeHistory(&b, in.session, in.history)
	fmt.Fprintf(&b, "Student: %q\n\n", in.utterance)

	switch in.label {
	case LabelOnTrack:
		if in.advanced {
			b.WriteString("The student just completed the previous step. Acknowledge it briefly and ask a guiding question about the step above.")
		} else {
			b.WriteString("The student is on track. Ask a guiding question that moves them closer to finishing this step.")
		}
	case LabelAnswerSeeking:
		b.WriteString("The student wants the answer. Do not give it. Redirect them with a question about what they already know for this step.")
	case LabelMisconception:
		if in.annotation != nil {
			fmt.Fprintf(&b, "The student shows a misconception: %s. ", in.annotation.Description)
			if in.annotation.Probe != "" {
				fmt.Fprintf(&b, "A useful probe: %s ", in.annotation.Probe)
			}
		} else {
			b.WriteString("The student seems to hold a mistaken belief. ")
		}
		b.WriteString(in.policy.instruction())
	default:
		b.WriteString("The student is confused. Break the step into a smaller sub-question and ask it.")
	}
	return b.String()
}

func writeHistory(b *strings.Builder, s *Session, n int) {
	var visible []Utterance
	for _, u := range s.Transcript {
		if u.Phase == PhaseInput || u.Phase == PhaseAction {
			visible = append(visible, u)
		}
	}
	if len(visible) > n {
		visible = visible[len(visible)-n:]
	}
	if len(visible) == 0 {
		return
	}
	b.WriteString("Recent conversation:\n")
	for _, u := range visible {
		fmt.Fprintf(b, "%s: %s\n", u.Speaker, u.Text)
	}
}
