package tutoring

import (
	"regexp"
	"strings"
	"unicode"
)

// Label is the THOUGHT produced for a learner utterance.
type Label string

const (
	LabelOnTrack       Label = "on_track"
	LabelConfused      Label = "confused"
	LabelAnswerSeeking Label = "answer_seeking"
	LabelMisconception Label = "misconception_signal"
)

// Labels lists the valid classifications in prompt order.
var Labels = []Label{LabelOnTrack, LabelConfused, LabelAnswerSeeking, LabelMisconception}

// IsValid reports whether l is one of the enumerated labels.
func (l Label) IsValid() bool {
	for _, v := range Labels {
		if v == l {
			return true
		}
	}
	return false
}

var labelAliases = map[string]Label{
	"on_track":             LabelOnTrack,
	"ontrack":              LabelOnTrack,
	"on_the_right_track":   LabelOnTrack,
	"confused":             LabelConfused,
	"answer_seeking":       LabelAnswerSeeking,
	"seeking_answer":       LabelAnswerSeeking,
	"misconception_signal": LabelMisconception,
	"misconception":        LabelMisconception,
}

// ParseLabel extracts a classification from completion text. Exactly one
// known label must appear; anything else is reported as not ok.
func ParseLabel(text string) (Label, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return LabelConfused, false
	}

	// Whole reply is a label, possibly decorated.
	key := strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ':
			return '_'
		case unicode.IsLetter(r) || r == '_':
			return r
		}
		return -1
	}, norm)
	if l, ok := labelAliases[key]; ok {
		return l, true
	}

	// Otherwise look for label tokens inside a sentence.
	tokens := strings.FieldsFunc(strings.NewReplacer("-", "_", "on track", "on_track").Replace(norm), func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	found := map[Label]bool{}
	for _, tok := range tokens {
		if l, ok := labelAliases[tok]; ok {
			found[l] = true
		}
	}
	if len(found) != 1 {
		return LabelConfused, false
	}
	for l := range found {
		return l, true
	}
	return LabelConfused, false
}

var answerSeekingRe = regexp.MustCompile(`(?i)` +
	`\b(tell|give|show)\s+me\s+(the\s+|your\s+)?(final\s+)?(answer|solution|result)\b` +
	`|\bwhat('?s|\s+is)\s+the\s+(final\s+)?(answer|solution)\b` +
	`|\bjust\s+(the\s+)?answer\b` +
	`|\b(solve|do)\s+it\s+for\s+me\b` +
	`|\bskip\s+(to\s+)?the\s+answer\b`)

// IsAnswerSeeking reports whether an utterance plainly asks to be handed the
// answer. This check does not depend on the gateway.
func IsAnswerSeeking(utterance string) bool {
	return answerSeekingRe.MatchString(utterance)
}
