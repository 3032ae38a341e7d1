package assessment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	rec, err := NewRecord("STU010", KindPre, []AnswerInput{
		{QuestionID: "pre_q1", Expected: "0.5", Submitted: "0.5", Concept: "sine"},
		{QuestionID: "pre_q4", Expected: "30", Submitted: "2", Concept: "inverse"},
	}, time.Time{})
	require.NoError(t, err)
	return rec
}

func TestAnalyzer_ModelRating(t *testing.T) {
	gw := completion.NewScriptedGateway().OnText(completion.PurposeAnalyze,
		"Here you go:\n```json\n"+
			`{"weak_areas": ["Inverse"], "strong_areas": ["sine"], "difficulty_level": "Hard",`+
			` "detailed_feedback": "Nice work on ratios.", "recommendations": ["practice arcsin"]}`+
			"\n```")

	got := NewAnalyzer(gw).Analyze(context.Background(), sampleRecord(t), DefaultBank())

	assert.Equal(t, SourceModel, got.Source)
	assert.Equal(t, []string{"inverse"}, got.WeakAreas)
	assert.Equal(t, []string{"sine"}, got.StrongAreas)
	assert.Equal(t, shared.DifficultyHard, got.Difficulty)
	assert.Equal(t, 0.5, got.Score)
	assert.Equal(t, 1, got.CorrectAnswers)
	assert.Equal(t, 2, got.TotalQuestions)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Correct answer: 30")
}

func TestAnalyzer_FallbackOnUnparseableReply(t *testing.T) {
	gw := completion.NewScriptedGateway().OnText(completion.PurposeAnalyze, "I think they did fine")

	got := NewAnalyzer(gw).Analyze(context.Background(), sampleRecord(t), nil)

	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, []string{"inverse"}, got.WeakAreas)
	assert.Equal(t, []string{"sine"}, got.StrongAreas)
	assert.Equal(t, shared.DifficultyModerate, got.Difficulty)
}

func TestAnalyzer_FallbackOnTransportFailure(t *testing.T) {
	gw := completion.NewScriptedGateway().On(completion.PurposeAnalyze, completion.TransportFailure(shared.ErrGatewayTimeout))

	got := NewAnalyzer(gw).Analyze(context.Background(), sampleRecord(t), nil)
	assert.Equal(t, SourceFallback, got.Source)

	nilGateway := NewAnalyzer(nil).Analyze(context.Background(), sampleRecord(t), nil)
	assert.Equal(t, SourceFallback, nilGateway.Source)
}
