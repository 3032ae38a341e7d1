package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

func TestLearningView_Apply(t *testing.T) {
	v := NewLearningView()
	events := []shared.Event{
		shared.NewStudentRegisteredEvent("STU001", "1"),
		shared.NewSessionStartedEvent("STU001", "s1", "inverse", 3),
		shared.NewStepCompletedEvent("STU001", "s1", 0, 2),
		shared.NewMisconceptionDetectedEvent("STU001", "s1", "inverse_as_reciprocal", "inverse", 1),
		shared.NewMisconceptionDetectedEvent("STU001", "s1", "inverse_as_reciprocal", "inverse", 2),
		shared.NewSessionClosedEvent(shared.EventSessionCompleted, "STU001", "s1", "inverse", 3, 3, 5, time.Minute),
		shared.NewSessionStartedEvent("STU001", "s2", "sine", 2),
		shared.NewAssessmentSubmittedEvent("STU001", "r1", "pre", "1", 0.5),
		shared.NewStudentRegisteredEvent("STU002", "2"),
		shared.NewTutorUnavailableEvent("STU002", "s3", 3),
	}
	for _, e := range events {
		v.Apply(e)
	}
	v.Apply(nil)

	card, ok := v.Get(context.Background(), "STU001")
	require.True(t, ok)
	assert.Equal(t, shared.CohortTutor, card.Cohort)
	assert.Equal(t, 2, card.SessionsStarted)
	assert.Equal(t, 1, card.SessionsCompleted)
	assert.Equal(t, 1, card.StepsCompleted)
	assert.Equal(t, map[string]int{"inverse_as_reciprocal": 2}, card.Misconceptions)
	assert.Equal(t, []string{"inverse", "sine"}, card.Concepts)
	assert.Equal(t, "s2", card.ActiveSessionID)
	require.NotNil(t, card.PreScore)
	assert.InDelta(t, 0.5, *card.PreScore, 1e-12)
	assert.Nil(t, card.FinalScore)

	// Returned cards are copies.
	card.Misconceptions["other"] = 1
	again, _ := v.Get(context.Background(), "STU001")
	assert.Len(t, again.Misconceptions, 1)

	tutor := v.Cohort(shared.CohortTutor)
	assert.Equal(t, 1, tutor.Students)
	assert.Equal(t, 2, tutor.Misconceptions)

	chat, _ := v.Get(context.Background(), "STU002")
	assert.Equal(t, 1, chat.TutorOutages)

	assert.Len(t, v.All(), 2)
	assert.Equal(t, int64(10), v.Version())

	v.Reset()
	_, ok = v.Get(context.Background(), "STU001")
	assert.False(t, ok)
}
