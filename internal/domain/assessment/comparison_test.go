package assessment

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// scored builds a record with `correct` right answers out of `total`.
func scored(t *testing.T, id string, kind Kind, correct, total int) *Record {
	t.Helper()
	inputs := make([]AnswerInput, total)
	for i := range inputs {
		submitted := "wrong"
		if i < correct {
			submitted = "ok"
		}
		inputs[i] = AnswerInput{QuestionID: fmt.Sprintf("q%d", i+1), Expected: "ok", Submitted: submitted}
	}
	rec, err := NewRecord(shared.StudentID(id), kind, inputs, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return &rec
}

func pair(t *testing.T, id string, pre, final, total int) Pair {
	return Pair{
		StudentID: shared.StudentID(id),
		Pre:       scored(t, id, KindPre, pre, total),
		Final:     scored(t, id, KindFinal, final, total),
	}
}

func TestCompare_WinnerByImprovement(t *testing.T) {
	// A: 0.60 -> 0.78 (+0.18), B: 0.60 -> 0.72 (+0.12)
	a := []Pair{pair(t, "A1", 30, 39, 50)}
	b := []Pair{pair(t, "B1", 30, 36, 50)}

	got := Compare(a, b)

	assert.Equal(t, WinnerA, got.Winner)
	assert.InDelta(t, 0.18, got.A.Improvement, 1e-12)
	assert.InDelta(t, 0.12, got.B.Improvement, 1e-12)
	assert.NoError(t, got.Err())
}

func TestCompare_TieWithinEpsilon(t *testing.T) {
	// A: 0.60 -> 0.75, B: 0.20 -> 0.35. Both +0.15 up to float rounding.
	a := []Pair{pair(t, "A1", 12, 15, 20)}
	b := []Pair{pair(t, "B1", 4, 7, 20)}

	got := Compare(a, b)

	assert.Equal(t, WinnerTie, got.Winner)
	assert.Equal(t, DefaultEpsilon, got.Epsilon)
}

func TestDecideWinner(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want Winner
	}{
		{"A larger", 0.18, 0.12, WinnerA},
		{"B larger", 0.10, 0.12, WinnerB},
		{"exact tie", 0.15, 0.15, WinnerTie},
		{"tie within epsilon", 0.15, 0.15 + 1e-12, WinnerTie},
		{"outside epsilon", 0.15, 0.15 + 1e-6, WinnerB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideWinner(
				CohortSummary{Label: "A", Eligible: 1, Improvement: tt.a},
				CohortSummary{Label: "B", Eligible: 1, Improvement: tt.b},
				DefaultEpsilon,
			)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare_ExcludesPartialPairs(t *testing.T) {
	a := []Pair{
		pair(t, "A1", 2, 4, 5),
		{StudentID: "A2", Pre: scored(t, "A2", KindPre, 0, 5)},
		{StudentID: "A3", Final: scored(t, "A3", KindFinal, 5, 5)},
	}
	b := []Pair{pair(t, "B1", 3, 3, 5)}

	got := Compare(a, b)

	assert.Equal(t, 3, got.A.Students)
	assert.Equal(t, 1, got.A.Eligible)
	assert.Equal(t, []shared.StudentID{"A2", "A3"}, got.A.Excluded)
	assert.InDelta(t, 0.4, got.A.Improvement, 1e-12)
	assert.Equal(t, WinnerA, got.Winner)
}

func TestCompare_InsufficientData(t *testing.T) {
	a := []Pair{{StudentID: "A1", Pre: scored(t, "A1", KindPre, 3, 5)}}
	b := []Pair{pair(t, "B1", 1, 4, 5)}

	got := Compare(a, b)

	assert.True(t, got.A.InsufficientData)
	assert.False(t, got.B.InsufficientData)
	assert.Equal(t, WinnerInsufficientData, got.Winner)
	assert.False(t, math.IsNaN(got.A.PreMean))
	assert.False(t, math.IsNaN(got.A.Improvement))
	assert.True(t, errors.Is(got.Err(), shared.ErrInsufficientData))

	empty := Compare(nil, nil)
	assert.Equal(t, WinnerInsufficientData, empty.Winner)
	assert.Equal(t, 0, empty.A.Eligible)
}

func TestCompare_Idempotent(t *testing.T) {
	a := []Pair{pair(t, "A2", 1, 4, 7), pair(t, "A1", 3, 5, 7), pair(t, "A3", 6, 6, 7)}
	b := []Pair{pair(t, "B1", 2, 2, 7), {StudentID: "B2", Pre: scored(t, "B2", KindPre, 1, 7)}}

	first := Compare(a, b)
	second := Compare(a, b)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("compare is not idempotent (-first +second):\n%s", diff)
	}

	// Input order must not matter either.
	reordered := []Pair{a[2], a[0], a[1]}
	third := Compare(reordered, b)
	if diff := cmp.Diff(first, third); diff != "" {
		t.Fatalf("compare depends on input order (-first +third):\n%s", diff)
	}
}

func TestCompare_PerfectScoresImproveByZero(t *testing.T) {
	stu := pair(t, "STU001", 5, 5, 5)
	assert.Equal(t, 1.0, stu.Pre.Score())
	assert.Equal(t, 1.0, stu.Final.Score())

	got := Compare([]Pair{stu}, []Pair{pair(t, "STU002", 2, 3, 5)})
	assert.Equal(t, 0.0, got.A.Improvement)
	assert.Equal(t, WinnerB, got.Winner)
}

func TestPairRecords_LatestWins(t *testing.T) {
	older := *scored(t, "S1", KindPre, 1, 5)
	newer := *scored(t, "S1", KindPre, 4, 5)
	newer.TakenAt = older.TakenAt.Add(time.Hour)
	final := *scored(t, "S1", KindFinal, 5, 5)
	other := *scored(t, "S0", KindFinal, 2, 5)

	pairs := PairRecords([]Record{newer, final, older, other})

	require.Len(t, pairs, 2)
	assert.Equal(t, shared.StudentID("S0"), pairs[0].StudentID)
	assert.False(t, pairs[0].Complete())
	assert.True(t, pairs[1].Complete())
	assert.Equal(t, 0.8, pairs[1].Pre.Score())
}

func TestEngine_WithEpsilon(t *testing.T) {
	e := NewEngine(WithEpsilon(0.05))
	got := e.Compare(
		[]Pair{pair(t, "A1", 10, 14, 100)},
		[]Pair{pair(t, "B1", 10, 12, 100)},
	)
	assert.Equal(t, WinnerTie, got.Winner)

	assert.Equal(t, DefaultEpsilon, NewEngine(WithEpsilon(-1)).Epsilon())
}
