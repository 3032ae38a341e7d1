package tutoring

import (
	"fmt"
	"strings"
)

// MisconceptionPolicy decides how a detected misconception is surfaced.
type MisconceptionPolicy string

const (
	// PolicySocratic only asks probing questions and never names the error.
	PolicySocratic MisconceptionPolicy = "socratic"
	// PolicyGentleReveal may say that two ideas are being mixed up, still
	// without stating the answer.
	PolicyGentleReveal MisconceptionPolicy = "gentle_reveal"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicySocratic

// ParsePolicy parses a policy name. Empty input yields the default.
func ParsePolicy(s string) (MisconceptionPolicy, error) {
	switch MisconceptionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case PolicySocratic:
		return PolicySocratic, nil
	case PolicyGentleReveal, "gentle-reveal", "gentle":
		return PolicyGentleReveal, nil
	}
	return "", fmt.Errorf("unknown misconception policy %q", s)
}

func (p MisconceptionPolicy) instruction() string {
	if p == PolicyGentleReveal {
		return "You may gently say that two ideas seem to be getting mixed up, without saying which answer is right. Then ask one question that lets the student test their idea."
	}
	return "Do not say the student is wrong and do not name the mistake. Ask one probing question that lets the student discover the flaw in their reasoning."
}

var bluntPhrases = []string{"that's wrong", "that is wrong", "you're wrong", "you are wrong", "incorrect", "that's not right", "that is not right"}

// permits reports whether a misconception response respects the policy.
func (p MisconceptionPolicy) permits(response string) bool {
	if p == PolicyGentleReveal {
		return true
	}
	lower := strings.ToLower(response)
	for _, phrase := range bluntPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}
