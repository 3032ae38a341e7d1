// Package misconception recognizes known conceptual errors in learner
// language and records them on the student's profile.
package misconception

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

//go:embed registry.yaml
var defaultRegistryYAML string

// Signature is a recognizable pattern of a named conceptual error.
type Signature struct {
	Tag         string              `yaml:"tag"`
	Description string              `yaml:"description"`
	Concepts    []shared.ConceptTag `yaml:"concepts"`
	Patterns    []string            `yaml:"patterns"`
	Keywords    [][]string          `yaml:"keywords"`
	Probe       string              `yaml:"probe"`

	compiled []*regexp.Regexp
}

// AppliesTo reports whether the signature is checked for concept.
func (s *Signature) AppliesTo(concept shared.ConceptTag) bool {
	if len(s.Concepts) == 0 {
		return true
	}
	for _, c := range s.Concepts {
		if c == concept {
			return true
		}
	}
	return false
}

// Match reports whether an utterance carries the signature.
func (s *Signature) Match(utterance string) bool {
	for _, re := range s.compiled {
		if re.MatchString(utterance) {
			return true
		}
	}
	lower := strings.ToLower(utterance)
	for _, set := range s.Keywords {
		if len(set) == 0 {
			continue
		}
		all := true
		for _, kw := range set {
			if !strings.Contains(lower, strings.ToLower(kw)) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Registry is an ordered list of signatures.
type Registry struct {
	Signatures []*Signature `yaml:"signatures"`
}

// LoadRegistry parses a YAML registry and compiles its patterns.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var reg Registry
	if err := yaml.NewDecoder(r).Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode misconception registry: %w", err)
	}
	seen := make(map[string]bool)
	for _, s := range reg.Signatures {
		if s.Tag == "" {
			return nil, fmt.Errorf("misconception registry: signature without tag")
		}
		if seen[s.Tag] {
			return nil, fmt.Errorf("misconception registry: duplicate tag %q", s.Tag)
		}
		seen[s.Tag] = true
		if len(s.Patterns) == 0 && len(s.Keywords) == 0 {
			return nil, fmt.Errorf("misconception registry: %q has no patterns or keywords", s.Tag)
		}
		for i, c := range s.Concepts {
			s.Concepts[i] = shared.NormalizeConcept(string(c))
		}
		for _, p := range s.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("misconception registry: %q: %w", s.Tag, err)
			}
			s.compiled = append(s.compiled, re)
		}
	}
	return &reg, nil
}

// DefaultRegistry returns the embedded trigonometry registry.
func DefaultRegistry() *Registry {
	reg, err := LoadRegistry(strings.NewReader(defaultRegistryYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded misconception registry is invalid: %v", err))
	}
	return reg
}

// Detect returns the first signature that applies to concept and matches.
func (r *Registry) Detect(utterance string, concept shared.ConceptTag) (*Signature, bool) {
	for _, s := range r.Signatures {
		if s.AppliesTo(concept) && s.Match(utterance) {
			return s, true
		}
	}
	return nil, false
}

// Lookup finds a signature by tag.
func (r *Registry) Lookup(tag string) (*Signature, bool) {
	for _, s := range r.Signatures {
		if s.Tag == tag {
			return s, true
		}
	}
	return nil, false
}
