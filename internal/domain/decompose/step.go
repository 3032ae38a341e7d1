package decompose

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Step is one sub-task of a problem.
type Step struct {
	// Description is what the learner must do. It is never the step's answer.
	Description string `json:"description"`

	// ExpectedForm is the literal answer this step yields, if known.
	ExpectedForm string `json:"expected_form,omitempty"`

	// Pattern is a regular expression matched against learner utterances to
	// decide completion. Empty means the step is checked by the gateway.
	Pattern string `json:"pattern,omitempty"`

	// YieldsAnswer marks the step that produces the problem's final answer.
	YieldsAnswer bool `json:"yields_answer,omitempty"`
}

var patternCache sync.Map // string -> *regexp.Regexp

func compiled(pattern string) *regexp.Regexp {
	if v, ok := patternCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	patternCache.Store(pattern, re)
	return re
}

// HasPattern reports whether the step can be checked locally.
func (s Step) HasPattern() bool {
	return s.Pattern != "" && compiled(s.Pattern) != nil
}

// Matches reports whether text satisfies the step's completion pattern.
func (s Step) Matches(text string) bool {
	if s.Pattern == "" {
		return false
	}
	re := compiled(s.Pattern)
	return re != nil && re.MatchString(text)
}

// Reveals reports whether text would give away the step's expected answer.
func (s Step) Reveals(text string) bool {
	if s.ExpectedForm == "" {
		return false
	}
	re := compiled(AnswerPattern(s.ExpectedForm))
	return re != nil && re.MatchString(text)
}

// AnswerPattern builds a regex that finds an answer as a standalone token.
// Numbers also match without a leading zero and with a degree suffix.
func AnswerPattern(expected string) string {
	expected = strings.TrimSpace(expected)
	expected = strings.TrimSuffix(expected, "°")
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return ""
	}

	forms := []string{regexp.QuoteMeta(expected)}
	if f, err := strconv.ParseFloat(expected, 64); err == nil {
		canonical := strconv.FormatFloat(f, 'f', -1, 64)
		if canonical != expected {
			forms = append(forms, regexp.QuoteMeta(canonical))
		}
		if strings.HasPrefix(canonical, "0.") {
			forms = append(forms, regexp.QuoteMeta(strings.TrimPrefix(canonical, "0")))
		}
		return `(?i)(^|[^0-9.])(` + strings.Join(forms, "|") + `)(\s*°|\s*deg(rees)?)?($|[^0-9])`
	}
	return `(?i)(^|[^\pL\pN])(` + strings.Join(forms, "|") + `)($|[^\pL\pN])`
}
