package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/tutor.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Profiles(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	p, err := student.NewProfile(student.NewProfileParams{ID: "STU001", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	require.NoError(t, s.CreateProfile(ctx, p))
	assert.ErrorIs(t, s.CreateProfile(ctx, p), shared.ErrStudentAlreadyExists)

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p.RecordMisconception("inverse_as_reciprocal", at)
	p.RecordMisconception("inverse_as_reciprocal", at.Add(time.Minute))
	p.AddNote(student.NoteSessionAbandoned, "s1", "Stopped a sine problem after 1/4 steps in 2 turns", at)
	p.ApplyRating([]string{"inverse"}, []string{"sine", "cosine"}, shared.DifficultyEasy)
	require.NoError(t, s.PutProfile(ctx, p))
	require.NoError(t, s.PutProfile(ctx, p))

	got, err := s.GetProfile(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, []string{"inverse"}, got.WeakAreas)
	assert.Equal(t, []string{"cosine", "sine"}, got.StrongAreas)
	assert.Equal(t, shared.DifficultyEasy, got.Difficulty)
	require.Len(t, got.Misconceptions, 1)
	assert.Equal(t, 2, got.Misconceptions[0].Count)
	require.Len(t, got.ProgressNotes, 1)

	_, err = s.GetProfile(ctx, "STU404")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	list, err := s.ListProfiles(ctx, shared.CohortChat)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = s.ListProfiles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Assessments(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	p, err := student.NewProfile(student.NewProfileParams{ID: "STU001", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	require.NoError(t, s.CreateProfile(ctx, p))

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	in := []assessment.AnswerInput{
		{QuestionID: "q1", Expected: "0.5", Submitted: "0.5", Concept: "sine"},
		{QuestionID: "q2", Expected: "1", Submitted: "0", Concept: "tangent"},
	}
	pre, err := assessment.NewRecord("STU001", assessment.KindPre, in, t0)
	require.NoError(t, err)
	require.NoError(t, s.AppendAssessment(ctx, pre))
	require.NoError(t, s.AppendAssessment(ctx, pre))

	recs, err := s.ListCohortAssessments(ctx, shared.CohortTutor)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Correct())
	assert.True(t, recs[0].TakenAt.Equal(t0))

	none, err := s.ListAssessments(ctx, "STU001", assessment.KindFinal)
	require.NoError(t, err)
	assert.Empty(t, none)

	orphan, err := assessment.NewRecord("STU404", assessment.KindPre, in, t0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AppendAssessment(ctx, orphan), shared.ErrStudentNotFound)

	require.NoError(t, s.SaveRating(ctx, assessment.FallbackRating(pre)))
	ratings, err := s.ListRatings(ctx, "STU001")
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, []string{"tangent"}, ratings[0].WeakAreas)
}
