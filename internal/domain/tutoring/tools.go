package tutoring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tool produces reference text the tutor can draw on when composing a
// question. Tool output goes into the prompt, never straight to the learner.
type Tool interface {
	Name() string
	// Wants reports whether the tool is relevant for the utterance.
	Wants(utterance string, label Label, style string) bool
	Run(utterance string) string
}

// Toolbox is an ordered set of tools.
type Toolbox struct {
	tools []Tool
}

// NewToolbox creates a toolbox. With no arguments it holds the default tools.
func NewToolbox(tools ...Tool) *Toolbox {
	if len(tools) == 0 {
		tools = []Tool{GraphTool{}, TriangleTool{}, IdentityTool{}}
	}
	return &Toolbox{tools: tools}
}

// Names lists the tools in order.
func (tb *Toolbox) Names() []string {
	if tb == nil {
		return nil
	}
	names := make([]string, len(tb.tools))
	for i, t := range tb.tools {
		names[i] = t.Name()
	}
	return names
}

func (tb *Toolbox) pick(utterance string, label Label, style string) []Tool {
	if tb == nil {
		return nil
	}
	var out []Tool
	for _, t := range tb.tools {
		if t.Wants(utterance, label, style) {
			out = append(out, t)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph descriptions
// ─────────────────────────────────────────────────────────────────────────────

var graphDescriptions = map[string]string{
	"sin": "The sine graph is a smooth wave that starts at the origin, rises to its peak at a quarter turn, returns to zero at a half turn, dips to its lowest point at three quarters of a turn and repeats every full turn. It never goes above one or below minus one.",
	"cos": "The cosine graph is the same wave as sine shifted left by a quarter turn. It starts at its peak on the vertical axis, crosses zero at a quarter turn and reaches its lowest point at a half turn.",
	"tan": "The tangent graph is made of repeating rising branches. Each branch passes through zero and shoots off toward vertical asymptotes where cosine is zero, so tangent can take any value.",
}

var (
	graphAskRe   = regexp.MustCompile(`(?i)\b(graph|plot|draw|sketch|visuali[sz]e|picture|wave|curve)\b`)
	graphFuncRe  = regexp.MustCompile(`(?i)\b(sin|sine|cos|cosine|tan|tangent)\b`)
	functionKeys = map[string]string{"sin": "sin", "sine": "sin", "cos": "cos", "cosine": "cos", "tan": "tan", "tangent": "tan"}
)

// GraphTool describes the shape of the sine, cosine and tangent graphs.
type GraphTool struct{}

func (GraphTool) Name() string { return "graph" }

func (GraphTool) Wants(utterance string, label Label, style string) bool {
	if graphAskRe.MatchString(utterance) {
		return true
	}
	return label == LabelConfused && style == "visual" && graphFuncRe.MatchString(utterance)
}

func (GraphTool) Run(utterance string) string {
	seen := map[string]bool{}
	for _, m := range graphFuncRe.FindAllString(utterance, -1) {
		seen[functionKeys[strings.ToLower(m)]] = true
	}
	if len(seen) == 0 {
		seen["sin"], seen["cos"] = true, true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = graphDescriptions[k]
	}
	return strings.Join(parts, " ")
}

// ─────────────────────────────────────────────────────────────────────────────
// Triangle side naming
// ─────────────────────────────────────────────────────────────────────────────

var sideAskRe = regexp.MustCompile(`(?i)\b(which|what)\s+(side|one)\b|\b(opposite|adjacent|hypotenuse)\b.*\?|\bwhich\s+is\s+the\s+(opposite|adjacent|hypotenuse)\b`)

// TriangleTool explains how sides of a right triangle are named relative to
// an angle.
type TriangleTool struct{}

func (TriangleTool) Name() string { return "triangle" }

func (TriangleTool) Wants(utterance string, label Label, _ string) bool {
	return label != LabelAnswerSeeking && sideAskRe.MatchString(utterance)
}

func (TriangleTool) Run(string) string {
	return "In a right triangle, sides are named relative to the chosen angle: the opposite side is across from the angle, the adjacent side touches the angle and is not the hypotenuse, and the hypotenuse is across from the right angle and is always the longest side."
}

// ─────────────────────────────────────────────────────────────────────────────
// Identity checking
// ─────────────────────────────────────────────────────────────────────────────

var (
	identityClaimRe = regexp.MustCompile(`(?i)(sin|cos|tan)\s*(?:\^\s*2|²)\s*(?:\(?\s*(?:x|θ|theta)\s*\)?)?\s*([+-])\s*(sin|cos|tan)\s*(?:\^\s*2|²)\s*(?:\(?\s*(?:x|θ|theta)\s*\)?)?\s*=\s*(-?\d+(?:\.\d+)?)`)
	identityAskRe   = regexp.MustCompile(`(?i)\bidentit(y|ies)\b|(sin|cos)\s*(\^\s*2|²)`)
	sampleDegrees   = []float64{0, 30, 45, 60}
)

// IdentityTool checks a claimed squared-trig identity numerically at a few
// sample angles.
type IdentityTool struct{}

func (IdentityTool) Name() string { return "identity_check" }

func (IdentityTool) Wants(utterance string, label Label, _ string) bool {
	return label != LabelAnswerSeeking && identityAskRe.MatchString(utterance)
}

func (IdentityTool) Run(utterance string) string {
	m := identityClaimRe.FindStringSubmatch(utterance)
	if m == nil {
		return "sin²θ + cos²θ equals the same constant for every angle θ; it follows from the Pythagorean theorem on the unit circle."
	}
	claimed, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return ""
	}
	f1, f2 := trigFunc(m[1]), trigFunc(m[3])
	sign := 1.0
	if m[2] == "-" {
		sign = -1
	}

	var failures []string
	for _, deg := range sampleDegrees {
		rad := deg * math.Pi / 180
		a, b := f1(rad), f2(rad)
		lhs := a*a + sign*b*b
		if math.IsInf(lhs, 0) || math.IsNaN(lhs) || math.Abs(lhs-claimed) > 1e-9 {
			failures = append(failures, fmt.Sprintf("%g°", deg))
		}
	}
	claim := strings.TrimSpace(m[0])
	if len(failures) == 0 {
		return fmt.Sprintf("The claim %q holds at every sampled angle.", claim)
	}
	return fmt.Sprintf("The claim %q fails at %s.", claim, strings.Join(failures, ", "))
}

func trigFunc(name string) func(float64) float64 {
	switch strings.ToLower(name) {
	case "cos":
		return math.Cos
	case "tan":
		return math.Tan
	default:
		return math.Sin
	}
}
