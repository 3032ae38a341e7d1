package assessment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("STU001", KindPre, []AnswerInput{
		{QuestionID: "q1", Expected: "30°", Submitted: "30", Concept: "Inverse"},
		{QuestionID: "q2", Expected: "0.5", Submitted: " 0.5 ", Concept: "sine"},
		{QuestionID: "q3", Expected: "1", Submitted: "2", Concept: "tangent"},
	}, time.Time{})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.TakenAt.IsZero())
	assert.Equal(t, 2, rec.Correct())
	assert.Equal(t, 3, rec.Total())
	assert.InDelta(t, 2.0/3.0, rec.Score(), 1e-12)
	assert.Equal(t, []string{"tangent"}, rec.MissedConcepts())
	assert.Equal(t, []string{"inverse", "sine"}, rec.MasteredConcepts())
}

func TestNewRecord_Validation(t *testing.T) {
	_, err := NewRecord("", KindPre, []AnswerInput{{QuestionID: "q1"}}, time.Time{})
	assert.True(t, errors.Is(err, shared.ErrInvalidStudentID))

	_, err = NewRecord("S1", Kind("mid"), []AnswerInput{{QuestionID: "q1"}}, time.Time{})
	assert.True(t, errors.Is(err, shared.ErrInvalidAssessmentKey))

	_, err = NewRecord("S1", KindFinal, nil, time.Time{})
	assert.True(t, shared.IsValidation(err))

	_, err = NewRecord("S1", KindFinal, []AnswerInput{{QuestionID: "q1"}, {QuestionID: "q1"}}, time.Time{})
	assert.True(t, errors.Is(err, shared.ErrInvalidAssessment))
}

func TestScoreBounds(t *testing.T) {
	assert.Equal(t, 0.0, Record{}.Score())

	rec, err := NewRecord("S1", KindPre, []AnswerInput{
		{QuestionID: "q1", Expected: "1", Submitted: "1"},
	}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Score())
}

func TestNormalizeAnswer(t *testing.T) {
	tests := map[string]string{
		"30°":         "30",
		"30 degrees":  "30",
		" 0.5 ":       "0.5",
		"π/6":         "pi/6",
		"√3/2":        "sqrt3/2",
		"One.":        "one",
		"sin(30 deg)": "sin(30)",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeAnswer(in), in)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Final ")
	require.NoError(t, err)
	assert.Equal(t, KindFinal, k)

	_, err = ParseKind("midterm")
	assert.Error(t, err)
}

func TestBank(t *testing.T) {
	b := DefaultBank()
	assert.Len(t, b.Pre, 5)
	assert.Len(t, b.Final, 5)

	q, ok := b.Question("pre_q4")
	require.True(t, ok)
	assert.Equal(t, "inverse", q.Concept)

	inputs := b.Inputs(KindPre, map[string]string{"pre_q1": "0.5"})
	require.Len(t, inputs, 5)
	rec, err := NewRecord("S1", KindPre, inputs, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Correct())
}
