package decompose

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

//go:embed templates.yaml
var defaultTemplatesYAML string

// StepTemplate is one step of a concept family skeleton.
type StepTemplate struct {
	Description string `yaml:"description"`
	Check       string `yaml:"check,omitempty"`
	Answer      bool   `yaml:"answer,omitempty"`
}

// Family is a deterministic decomposition for one concept.
type Family struct {
	Concept  shared.ConceptTag `yaml:"concept"`
	Keywords []string          `yaml:"keywords"`
	Steps    []StepTemplate    `yaml:"steps"`
}

// Catalog holds the known concept families. Order matters for inference:
// the first family whose keyword appears in a problem wins.
type Catalog struct {
	Families []Family `yaml:"families"`
	Fallback Family   `yaml:"fallback"`

	byConcept map[shared.ConceptTag]*Family
}

// LoadCatalog parses and validates a YAML template catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode step templates: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog returns the embedded trigonometry catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(strings.NewReader(defaultTemplatesYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded step templates are invalid: %v", err))
	}
	return c
}

func (c *Catalog) validate() error {
	c.byConcept = make(map[shared.ConceptTag]*Family, len(c.Families))
	all := append([]Family{c.Fallback}, c.Families...)
	for i := range all {
		f := all[i]
		if len(f.Steps) == 0 {
			return fmt.Errorf("step templates: family %q has no steps", f.Concept)
		}
		for j, s := range f.Steps {
			if strings.TrimSpace(s.Description) == "" {
				return fmt.Errorf("step templates: family %q step %d has no description", f.Concept, j+1)
			}
			if s.Check != "" {
				if _, err := regexp.Compile(s.Check); err != nil {
					return fmt.Errorf("step templates: family %q step %d: %w", f.Concept, j+1, err)
				}
			}
			if j > 0 && strings.EqualFold(s.Description, f.Steps[j-1].Description) {
				return fmt.Errorf("step templates: family %q repeats step %d", f.Concept, j+1)
			}
		}
	}
	for i := range c.Families {
		f := &c.Families[i]
		f.Concept = shared.NormalizeConcept(string(f.Concept))
		c.byConcept[f.Concept] = f
	}
	return nil
}

// Lookup returns the family for a concept.
func (c *Catalog) Lookup(concept shared.ConceptTag) (*Family, bool) {
	f, ok := c.byConcept[shared.NormalizeConcept(string(concept))]
	return f, ok
}

// Infer guesses a concept family from the problem text.
func (c *Catalog) Infer(problem string) (shared.ConceptTag, bool) {
	text := strings.ToLower(problem)
	for _, f := range c.Families {
		for _, kw := range f.Keywords {
			if containsWord(text, strings.ToLower(kw)) {
				return f.Concept, true
			}
		}
	}
	return "", false
}

// Concepts lists the known concept tags in catalog order.
func (c *Catalog) Concepts() []shared.ConceptTag {
	out := make([]shared.ConceptTag, len(c.Families))
	for i, f := range c.Families {
		out[i] = f.Concept
	}
	return out
}

// containsWord matches kw in text without matching inside longer words,
// so "sin" does not match "using".
func containsWord(text, kw string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	ch := text[i]
	return !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9')
}

// build materializes a family into steps, attaching the expected answer to
// the step that yields it.
func (f *Family) build(expected string) []Step {
	steps := make([]Step, len(f.Steps))
	for i, t := range f.Steps {
		steps[i] = Step{Description: t.Description, Pattern: t.Check, YieldsAnswer: t.Answer}
	}
	attachAnswer(steps, expected)
	return steps
}

func attachAnswer(steps []Step, expected string) {
	expected = strings.TrimSpace(expected)
	if len(steps) == 0 {
		return
	}
	idx := -1
	for i, s := range steps {
		if s.YieldsAnswer {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(steps) - 1
		steps[idx].YieldsAnswer = true
	}
	if expected == "" {
		return
	}
	steps[idx].ExpectedForm = expected
	steps[idx].Pattern = AnswerPattern(expected)
}
