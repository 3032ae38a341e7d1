package assessment

import (
	"fmt"
	"math"
	"sort"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COHORT COMPARISON ENGINE
// Aggregates pre/final scores per cohort and designates the cohort with the
// larger improvement. Partial data is excluded, never fatal.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEpsilon is the tolerance under which two improvements are a tie.
const DefaultEpsilon = 1e-9

// Winner labels the outcome of a comparison.
type Winner string

const (
	WinnerA                Winner = "A"
	WinnerB                Winner = "B"
	WinnerTie              Winner = "tie"
	WinnerInsufficientData Winner = "insufficient_data"
)

// Pair holds one student's pre and final records. Either may be nil.
type Pair struct {
	StudentID shared.StudentID
	Pre       *Record
	Final     *Record
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool {
	return p.Pre != nil && p.Final != nil
}

// CohortSummary is the aggregate for one side of a comparison.
type CohortSummary struct {
	Label            string             `json:"label"`
	Cohort           shared.Cohort      `json:"cohort,omitempty"`
	Students         int                `json:"students"`
	Eligible         int                `json:"eligible"`
	Excluded         []shared.StudentID `json:"excluded,omitempty"`
	PreMean          float64            `json:"pre_mean"`
	FinalMean        float64            `json:"final_mean"`
	Improvement      float64            `json:"improvement"`
	InsufficientData bool               `json:"insufficient_data"`
}

// CohortComparison is derived on demand from assessment records.
type CohortComparison struct {
	A       CohortSummary `json:"a"`
	B       CohortSummary `json:"b"`
	Winner  Winner        `json:"winner"`
	Epsilon float64       `json:"epsilon"`
}

// Err returns ErrInsufficientData when either side had no eligible students.
// The comparison itself is still a valid partial result.
func (c CohortComparison) Err() error {
	var sides []string
	if c.A.InsufficientData {
		sides = append(sides, c.A.Label)
	}
	if c.B.InsufficientData {
		sides = append(sides, c.B.Label)
	}
	if len(sides) == 0 {
		return nil
	}
	return shared.WrapError("assessment", "Compare", shared.ErrInsufficientData,
		fmt.Sprintf("no comparable pairs for cohort %v", sides), nil)
}

// Analysis returns a one-line human summary.
func (c CohortComparison) Analysis() string {
	if c.Winner == WinnerInsufficientData {
		return "Not enough students with both pre and final assessments to compare cohorts"
	}
	return fmt.Sprintf("Cohort %s improved by %.2f%%, cohort %s improved by %.2f%%",
		c.A.Label, c.A.Improvement*100, c.B.Label, c.B.Improvement*100)
}

// Engine computes cohort comparisons.
type Engine struct {
	epsilon float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithEpsilon sets the tie tolerance. Non-positive values are ignored.
func WithEpsilon(eps float64) Option {
	return func(e *Engine) {
		if eps > 0 {
			e.epsilon = eps
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{epsilon: DefaultEpsilon}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Epsilon returns the configured tie tolerance.
func (e *Engine) Epsilon() float64 {
	return e.epsilon
}

// Compare summarizes two cohorts and picks a winner. Output depends only on
// the input records, so repeated calls on the same input are identical.
func (e *Engine) Compare(a, b []Pair) CohortComparison {
	sa := Summarize("A", a)
	sb := Summarize("B", b)
	return CohortComparison{
		A:       sa,
		B:       sb,
		Winner:  DecideWinner(sa, sb, e.epsilon),
		Epsilon: e.epsilon,
	}
}

// Compare uses an engine with the default epsilon.
func Compare(a, b []Pair) CohortComparison {
	return NewEngine().Compare(a, b)
}

// Summarize computes the means for one cohort over students that have both
// a pre and a final record.
func Summarize(label string, pairs []Pair) CohortSummary {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StudentID < sorted[j].StudentID
	})

	s := CohortSummary{Label: label, Students: len(sorted)}

	var preSum, finalSum float64
	for _, p := range sorted {
		if !p.Complete() {
			s.Excluded = append(s.Excluded, p.StudentID)
			continue
		}
		preSum += p.Pre.Score()
		finalSum += p.Final.Score()
		s.Eligible++
	}

	if s.Eligible == 0 {
		s.InsufficientData = true
		return s
	}

	n := float64(s.Eligible)
	s.PreMean = preSum / n
	s.FinalMean = finalSum / n
	s.Improvement = s.FinalMean - s.PreMean
	return s
}

// DecideWinner applies a strict greater-than on improvement with an epsilon
// tie band.
func DecideWinner(a, b CohortSummary, epsilon float64) Winner {
	if a.InsufficientData || b.InsufficientData {
		return WinnerInsufficientData
	}
	diff := a.Improvement - b.Improvement
	switch {
	case math.Abs(diff) <= epsilon:
		return WinnerTie
	case diff > 0:
		return WinnerA
	default:
		return WinnerB
	}
}

// PairRecords groups records by student. When a student has several records
// of the same kind, the latest one is used.
func PairRecords(records []Record) []Pair {
	byStudent := make(map[shared.StudentID]*Pair)
	for i := range records {
		r := records[i]
		p, ok := byStudent[r.StudentID]
		if !ok {
			p = &Pair{StudentID: r.StudentID}
			byStudent[r.StudentID] = p
		}
		switch r.Kind {
		case KindPre:
			if newer(&r, p.Pre) {
				p.Pre = &r
			}
		case KindFinal:
			if newer(&r, p.Final) {
				p.Final = &r
			}
		}
	}

	out := make([]Pair, 0, len(byStudent))
	for _, p := range byStudent {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

func newer(candidate, current *Record) bool {
	if current == nil {
		return true
	}
	if candidate.TakenAt.Equal(current.TakenAt) {
		return candidate.ID > current.ID
	}
	return candidate.TakenAt.After(current.TakenAt)
}
