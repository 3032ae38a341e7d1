package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

func mustProfile(t *testing.T, id string, cohort shared.Cohort) *student.Profile {
	t.Helper()
	p, err := student.NewProfile(student.NewProfileParams{ID: id, Cohort: cohort})
	require.NoError(t, err)
	return p
}

func TestStore_Profiles(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	p := mustProfile(t, "STU002", shared.CohortChat)
	require.NoError(t, s.CreateProfile(ctx, p))
	require.NoError(t, s.CreateProfile(ctx, mustProfile(t, "STU001", shared.CohortTutor)))
	assert.ErrorIs(t, s.CreateProfile(ctx, p), shared.ErrStudentAlreadyExists)

	_, err := s.GetProfile(ctx, "STU404")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	got, err := s.GetProfile(ctx, "STU002")
	require.NoError(t, err)
	got.RecordMisconception("inverse_as_reciprocal", time.Now())
	got.AddNote(student.NoteChat, "", "asked about radians", time.Now())
	require.NoError(t, s.PutProfile(ctx, got))
	require.NoError(t, s.PutProfile(ctx, got))

	again, err := s.GetProfile(ctx, "STU002")
	require.NoError(t, err)
	assert.Len(t, again.Misconceptions, 1)
	assert.Len(t, again.ProgressNotes, 1)

	all, err := s.ListProfiles(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, shared.StudentID("STU001"), all[0].ID)

	tutor, err := s.ListProfiles(ctx, shared.CohortTutor)
	require.NoError(t, err)
	assert.Len(t, tutor, 1)
}

func TestStore_Assessments(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateProfile(ctx, mustProfile(t, "STU001", shared.CohortTutor)))

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	input := []assessment.AnswerInput{{QuestionID: "q1", Expected: "0.5", Submitted: "0.5"}}
	final, err := assessment.NewRecord("STU001", assessment.KindFinal, input, t0.Add(24*time.Hour))
	require.NoError(t, err)
	pre, err := assessment.NewRecord("STU001", assessment.KindPre, input, t0)
	require.NoError(t, err)

	require.NoError(t, s.AppendAssessment(ctx, final))
	require.NoError(t, s.AppendAssessment(ctx, pre))
	require.NoError(t, s.AppendAssessment(ctx, pre))

	all, err := s.ListAssessments(ctx, "STU001", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, assessment.KindPre, all[0].Kind)

	finals, err := s.ListAssessments(ctx, "STU001", assessment.KindFinal)
	require.NoError(t, err)
	assert.Len(t, finals, 1)

	cohort, err := s.ListCohortAssessments(ctx, shared.CohortTutor)
	require.NoError(t, err)
	assert.Len(t, cohort, 2)

	orphan, err := assessment.NewRecord("STU404", assessment.KindPre, input, t0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AppendAssessment(ctx, orphan), shared.ErrStudentNotFound)

	require.NoError(t, s.SaveRating(ctx, assessment.FallbackRating(pre)))
	ratings, err := s.ListRatings(ctx, "STU001")
	require.NoError(t, err)
	assert.Len(t, ratings, 1)
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	first := tutoring.NewSession("STU001", t0)
	first.State = tutoring.StateAbandoned
	second := tutoring.NewSession("STU001", t0.Add(time.Hour))
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, tutoring.NewSession("STU003", t0)))

	active, err := s.Active(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	list, err := s.ListByStudent(ctx, "STU001")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	// Mutating a loaded session does not touch the store.
	active.Problem = "changed"
	reloaded, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Problem)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
	_, err = s.Active(ctx, "STU009")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestSlotLocker_OneTurnPerStudent(t *testing.T) {
	l := NewSlotLocker()
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := l.TryLock(ctx, "STU001", time.Minute)
			if err != nil {
				assert.ErrorIs(t, err, shared.ErrSessionBusy)
				return
			}
			acquired.Add(1)
			<-release
			rel()
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())

	rel, err := l.TryLock(ctx, "STU001", time.Minute)
	require.NoError(t, err)
	rel()
	rel()
}

func TestSlotLocker_ExpiredSlotIsReclaimed(t *testing.T) {
	l := NewSlotLocker()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, err := l.TryLock(context.Background(), "STU001", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.TryLock(context.Background(), "STU001", time.Second)
	require.NoError(t, err)

	// The stale release must not free the new holder's slot.
	stale()
	_, err = l.TryLock(context.Background(), "STU001", time.Second)
	assert.ErrorIs(t, err, shared.ErrSessionBusy)
	fresh()
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	for _, text := range []string{"q1", "a1", "q2"} {
		require.NoError(t, h.Append(ctx, "STU002", qa.Message{Role: qa.RoleUser, Text: text}))
	}
	last, err := h.Recent(ctx, "STU002", 2)
	require.NoError(t, err)
	assert.Equal(t, "a1", last[0].Text)

	require.NoError(t, h.Clear(ctx, "STU002"))
	empty, err := h.Recent(ctx, "STU002", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
