// Package assessment models pre/final assessments and the cohort comparison
// computed from them.
package assessment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind is when in the study an assessment was taken.
type Kind string

const (
	KindPre   Kind = "pre"
	KindFinal Kind = "final"
)

// IsValid reports whether the kind is pre or final.
func (k Kind) IsValid() bool {
	return k == KindPre || k == KindFinal
}

// ParseKind parses "pre" or "final".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.ErrInvalidAssessmentKey
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// AnswerInput is one graded question as submitted by the presentation layer.
type AnswerInput struct {
	QuestionID string `json:"question_id" yaml:"question_id"`
	Expected   string `json:"expected" yaml:"expected"`
	Submitted  string `json:"submitted" yaml:"submitted"`
	Concept    string `json:"concept,omitempty" yaml:"concept,omitempty"`
}

// Answer is a stored answer with its correctness.
type Answer struct {
	QuestionID string `json:"question_id" toml:"question_id"`
	Submitted  string `json:"submitted" toml:"submitted"`
	Correct    bool   `json:"correct" toml:"correct"`
	Concept    string `json:"concept,omitempty" toml:"concept,omitempty"`
}

// Record is an immutable assessment result.
type Record struct {
	ID        string           `json:"id" toml:"id"`
	StudentID shared.StudentID `json:"student_id" toml:"student_id"`
	Kind      Kind             `json:"kind" toml:"kind"`
	Answers   []Answer         `json:"answers" toml:"answers"`
	TakenAt   time.Time        `json:"taken_at" toml:"taken_at"`
}

// NewRecord grades inputs and builds a record.
func NewRecord(studentID shared.StudentID, kind Kind, inputs []AnswerInput, takenAt time.Time) (Record, error) {
	if !studentID.IsValid() {
		return Record{}, shared.ErrInvalidStudentID
	}
	if !kind.IsValid() {
		return Record{}, shared.ErrInvalidAssessmentKey
	}
	if len(inputs) == 0 {
		return Record{}, shared.WrapError("assessment", "NewRecord", shared.ErrInvalidAssessment, "no answers submitted", nil)
	}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.QuestionID) == "" {
			return Record{}, shared.WrapError("assessment", "NewRecord", shared.ErrInvalidAssessment, "question id is required", nil)
		}
		if _, dup := seen[in.QuestionID]; dup {
			return Record{}, shared.WrapError("assessment", "NewRecord", shared.ErrInvalidAssessment, "duplicate question "+in.QuestionID, nil)
		}
		seen[in.QuestionID] = struct{}{}
	}
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	return Record{
		ID:        uuid.New().String(),
		StudentID: studentID,
		Kind:      kind,
		Answers:   Grade(inputs),
		TakenAt:   takenAt,
	}, nil
}

// Correct returns the number of correct answers.
func (r Record) Correct() int {
	n := 0
	for _, a := range r.Answers {
		if a.Correct {
			n++
		}
	}
	return n
}

// Total returns the number of answered questions.
func (r Record) Total() int {
	return len(r.Answers)
}

// Score returns correct/total in [0, 1]. An empty record scores 0.
func (r Record) Score() float64 {
	if len(r.Answers) == 0 {
		return 0
	}
	return float64(r.Correct()) / float64(len(r.Answers))
}

// MissedConcepts returns the distinct concepts of incorrect answers, in order.
func (r Record) MissedConcepts() []string {
	return r.concepts(false)
}

// MasteredConcepts returns concepts answered correctly and never missed.
func (r Record) MasteredConcepts() []string {
	missed := make(map[string]bool)
	for _, c := range r.MissedConcepts() {
		missed[c] = true
	}
	var out []string
	for _, c := range r.concepts(true) {
		if !missed[c] {
			out = append(out, c)
		}
	}
	return out
}

func (r Record) concepts(correct bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Answers {
		if a.Correct != correct || a.Concept == "" || seen[a.Concept] {
			continue
		}
		seen[a.Concept] = true
		out = append(out, a.Concept)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADING
// ══════════════════════════════════════════════════════════════════════════════

// Grade checks each submitted answer against its expected answer.
func Grade(inputs []AnswerInput) []Answer {
	out := make([]Answer, len(inputs))
	for i, in := range inputs {
		out[i] = Answer{
			QuestionID: in.QuestionID,
			Submitted:  in.Submitted,
			Correct:    in.Expected != "" && NormalizeAnswer(in.Submitted) == NormalizeAnswer(in.Expected),
			Concept:    string(shared.NormalizeConcept(in.Concept)),
		}
	}
	return out
}

var answerReplacer = strings.NewReplacer(
	"°", "",
	" degrees", "",
	" deg", "",
	" ", "",
	"π", "pi",
	"√", "sqrt",
)

// NormalizeAnswer canonicalizes an answer for equality checks.
func NormalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = answerReplacer.Replace(s)
	s = strings.TrimSuffix(s, ".")
	return s
}
