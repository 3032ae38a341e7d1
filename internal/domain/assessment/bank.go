package assessment

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed bank.yaml
var defaultBankYAML []byte

// Question is one item of the question bank.
type Question struct {
	ID          string `yaml:"id" json:"id"`
	Concept     string `yaml:"concept" json:"concept"`
	Prompt      string `yaml:"prompt" json:"prompt"`
	Expected    string `yaml:"expected" json:"-"`
	Explanation string `yaml:"explanation,omitempty" json:"-"`
}

// Bank holds the assessment and practice questions of the course.
type Bank struct {
	Pre      []Question `yaml:"pre_assessment"`
	Learning []Question `yaml:"learning_questions"`
	Final    []Question `yaml:"final_assessment"`

	index map[string]Question
}

// LoadBank parses a YAML question bank.
func LoadBank(r io.Reader) (*Bank, error) {
	var b Bank
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	if err := b.buildIndex(); err != nil {
		return nil, err
	}
	return &b, nil
}

// DefaultBank returns the embedded trigonometry bank.
func DefaultBank() *Bank {
	b, err := LoadBank(strings.NewReader(string(defaultBankYAML)))
	if err != nil {
		panic(fmt.Sprintf("embedded question bank is invalid: %v", err))
	}
	return b
}

func (b *Bank) buildIndex() error {
	b.index = make(map[string]Question)
	for _, group := range [][]Question{b.Pre, b.Learning, b.Final} {
		for _, q := range group {
			if q.ID == "" {
				return fmt.Errorf("question bank: question without id")
			}
			if _, dup := b.index[q.ID]; dup {
				return fmt.Errorf("question bank: duplicate id %q", q.ID)
			}
			b.index[q.ID] = q
		}
	}
	return nil
}

// Question looks a question up by id.
func (b *Bank) Question(id string) (Question, bool) {
	q, ok := b.index[id]
	return q, ok
}

// ForKind returns the questions of an assessment kind.
func (b *Bank) ForKind(kind Kind) []Question {
	switch kind {
	case KindPre:
		return b.Pre
	case KindFinal:
		return b.Final
	default:
		return nil
	}
}

// Inputs pairs submitted answers with the bank's expected answers.
// Questions without a submission are graded as unanswered.
func (b *Bank) Inputs(kind Kind, submitted map[string]string) []AnswerInput {
	questions := b.ForKind(kind)
	out := make([]AnswerInput, 0, len(questions))
	for _, q := range questions {
		out = append(out, AnswerInput{
			QuestionID: q.ID,
			Expected:   q.Expected,
			Submitted:  submitted[q.ID],
			Concept:    q.Concept,
		})
	}
	return out
}
