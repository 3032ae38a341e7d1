// Package decompose splits a problem statement into the ordered sub-steps a
// competent solver goes through.
//
// Known concept families use fixed templates. Anything else is delegated to
// the text-completion gateway and parsed back into a list.
package decompose

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// Problem is the input to decomposition.
type Problem struct {
	Statement string
	Concept   shared.ConceptTag

	// Expected is the final answer, when the caller knows it. It becomes the
	// completion pattern of the answer-yielding step.
	Expected string
}

// Plan is the result of decomposition.
type Plan struct {
	Concept shared.ConceptTag
	Steps   []Step
	// Source is "template", "gateway" or "fallback".
	Source string
}

// Decomposer produces step plans.
type Decomposer struct {
	catalog  *Catalog
	gateway  completion.Gateway
	maxSteps int
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithCatalog replaces the embedded template catalog.
func WithCatalog(c *Catalog) Option {
	return func(d *Decomposer) {
		if c != nil {
			d.catalog = c
		}
	}
}

// WithMaxSteps caps gateway-produced plans.
func WithMaxSteps(n int) Option {
	return func(d *Decomposer) {
		if n > 0 {
			d.maxSteps = n
		}
	}
}

// New creates a Decomposer. gateway may be nil, in which case unknown
// concepts fail with ErrDecomposition.
func New(gateway completion.Gateway, opts ...Option) *Decomposer {
	d := &Decomposer{
		catalog:  DefaultCatalog(),
		gateway:  gateway,
		maxSteps: 8,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the template catalog in use.
func (d *Decomposer) Catalog() *Catalog {
	return d.catalog
}

// Decompose returns a non-empty plan whose neighbouring steps differ.
func (d *Decomposer) Decompose(ctx context.Context, p Problem) (Plan, error) {
	statement := strings.TrimSpace(p.Statement)
	if statement == "" {
		return Plan{}, shared.ErrEmptyProblem
	}

	concept := shared.NormalizeConcept(string(p.Concept))
	if concept == "" {
		if inferred, ok := d.catalog.Infer(statement); ok {
			concept = inferred
		}
	}

	if f, ok := d.catalog.Lookup(concept); ok {
		return Plan{Concept: f.Concept, Steps: f.build(p.Expected), Source: "template"}, nil
	}

	if d.gateway == nil {
		return Plan{}, shared.WrapError("decompose", "Decompose", shared.ErrDecomposition,
			fmt.Sprintf("no template for concept %q and no gateway", concept), nil)
	}

	steps, err := d.viaGateway(ctx, statement, concept)
	if err != nil {
		return Plan{}, err
	}
	attachAnswer(steps, p.Expected)
	if concept == "" {
		concept = d.catalog.Fallback.Concept
	}
	return Plan{Concept: concept, Steps: steps, Source: "gateway"}, nil
}

// Fallback returns the generic plan used when decomposition fails.
func (d *Decomposer) Fallback(p Problem) Plan {
	concept := shared.NormalizeConcept(string(p.Concept))
	if concept == "" {
		concept = d.catalog.Fallback.Concept
	}
	return Plan{Concept: concept, Steps: d.catalog.Fallback.build(p.Expected), Source: "fallback"}
}

const decomposeSystemPrompt = `You help a tutor plan a lesson. You never solve problems.`

func (d *Decomposer) viaGateway(ctx context.Context, statement string, concept shared.ConceptTag) ([]Step, error) {
	prompts := []string{
		fmt.Sprintf(`Break the following problem into the 3 to %d smallest sub-tasks a student must perform to solve it.
Concept: %s
Problem: %s

Reply with a numbered list, one sub-task per line. Do not include the answer.`, d.maxSteps, concept, statement),
		fmt.Sprintf(`List the sub-tasks for solving this problem.
Problem: %s

Rules:
- Output ONLY lines of the form "1. <sub-task>".
- Between 3 and %d lines.
- No introduction, no explanation, no answer.`, statement, d.maxSteps),
	}

	var lastErr error
	for _, prompt := range prompts {
		var steps []Step
		res := d.gateway.Complete(ctx, completion.Request{
			Purpose:     completion.PurposeDecompose,
			System:      decomposeSystemPrompt,
			Prompt:      prompt,
			MaxTokens:   400,
			Temperature: 0.2,
		}).Then(func(text string) error {
			parsed, err := ParseSteps(text, d.maxSteps)
			steps = parsed
			return err
		})
		if res.OK() {
			return steps, nil
		}
		lastErr = res.Error()
	}
	return nil, shared.WrapError("decompose", "Decompose", shared.ErrDecomposition,
		"gateway reply could not be parsed into steps", lastErr)
}

var (
	numberedLine = regexp.MustCompile(`(?i)^\s*(?:step\s*)?(\d{1,2})\s*[.):\-]\s*(.+?)\s*$`)
	bulletLine   = regexp.MustCompile(`^\s*[-*•]\s+(.+?)\s*$`)
)

// ParseSteps extracts steps from a numbered list. When no numbered lines are
// present, it falls back to bullet or plain lines. At least two steps are
// required; consecutive duplicates are dropped and the result is capped.
func ParseSteps(text string, max int) ([]Step, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var numbered, other []string
	for _, line := range lines {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			numbered = append(numbered, cleanStep(m[2]))
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			other = append(other, cleanStep(m[1]))
			continue
		}
		if l := cleanStep(line); l != "" && !strings.HasSuffix(l, ":") {
			other = append(other, l)
		}
	}

	candidates := numbered
	if len(candidates) == 0 {
		candidates = other
	}

	var steps []Step
	for _, c := range candidates {
		if c == "" || len(c) > 240 {
			continue
		}
		if n := len(steps); n > 0 && strings.EqualFold(steps[n-1].Description, c) {
			continue
		}
		steps = append(steps, Step{Description: c})
	}

	if len(steps) < 2 {
		return nil, fmt.Errorf("found %d usable steps", len(steps))
	}
	if max > 0 && len(steps) > max {
		steps = steps[:max]
	}
	return steps, nil
}

func cleanStep(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`")
	return strings.TrimSpace(s)
}
