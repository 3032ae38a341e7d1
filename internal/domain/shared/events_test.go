package shared

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreEvent_AfterJSON(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		NewStudentRegisteredEvent("STU001", "1"),
		NewSessionStartedEvent("STU001", "s1", "sine", 4),
		NewStepCompletedEvent("STU001", "s1", 2, 1),
		NewSessionClosedEvent(EventSessionAbandoned, "STU001", "s1", "sine", 2, 4, 7, 90*time.Second),
		NewMisconceptionDetectedEvent("STU001", "s1", "sine_uses_adjacent", "sine", 2),
		NewTutorUnavailableEvent("STU001", "s1", 3),
		NewAssessmentSubmittedEvent("STU001", "r1", "final", "1", 0.8),
		NewComparisonComputedEvent("A", 0.3, 0.1),
	}

	for _, original := range events {
		t.Run(string(original.EventType()), func(t *testing.T) {
			data, err := json.Marshal(original.Payload())
			require.NoError(t, err)
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &payload))

			restored, ok := RestoreEvent(original.EventType(), original.AggregateID(), at, payload)
			require.True(t, ok)
			assert.Equal(t, original.EventType(), restored.EventType())
			assert.Equal(t, original.AggregateID(), restored.AggregateID())
			assert.Equal(t, at, restored.OccurredAt())
			assert.Equal(t, original.Payload(), restored.Payload())
		})
	}
}

func TestRestoreEvent_Unknown(t *testing.T) {
	_, ok := RestoreEvent("something.else", "x", time.Now(), nil)
	assert.False(t, ok)
}

func TestDomainError_Is(t *testing.T) {
	err := WrapError("tutoring", "Turn", ErrServiceUnavailable, "down", ErrGatewayTimeout)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(ErrSessionNotFound))
	assert.True(t, IsValidation(ErrEmptyUtterance))
}

func TestNewCohort(t *testing.T) {
	for in, want := range map[string]Cohort{"1": CohortTutor, "A": CohortTutor, "chat": CohortChat, " 2 ": CohortChat} {
		got, err := NewCohort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := NewCohort("3")
	assert.ErrorIs(t, err, ErrInvalidCohort)
	assert.Equal(t, "A", CohortTutor.Label())
	assert.Equal(t, "B", CohortChat.Label())
}

func TestDifficultyForScore(t *testing.T) {
	assert.Equal(t, DifficultyEasy, DifficultyForScore(0.2))
	assert.Equal(t, DifficultyModerate, DifficultyForScore(0.4))
	assert.Equal(t, DifficultyHard, DifficultyForScore(0.75))
	assert.Equal(t, DifficultyExpert, DifficultyForScore(0.9))
	d, err := ParseDifficulty("Intermediate")
	require.NoError(t, err)
	assert.Equal(t, DifficultyModerate, d)
}
