package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/projections"
)

var (
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	baseTime    = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

type recorder struct{ events []shared.Event }

func (r *recorder) Publish(e shared.Event) error {
	r.events = append(r.events, e)
	return nil
}

func addStudent(t *testing.T, store *memory.Store, id string, cohort shared.Cohort) {
	t.Helper()
	p, err := student.NewProfile(student.NewProfileParams{ID: id, Cohort: cohort})
	require.NoError(t, err)
	require.NoError(t, store.CreateProfile(context.Background(), p))
}

// addScores stores pre and final records with correct answers out of 10.
func addScores(t *testing.T, store *memory.Store, id string, pre, final int) {
	t.Helper()
	for i, c := range []struct {
		kind    assessment.Kind
		correct int
	}{{assessment.KindPre, pre}, {assessment.KindFinal, final}} {
		if c.correct < 0 {
			continue
		}
		inputs := make([]assessment.AnswerInput, 10)
		for q := range inputs {
			inputs[q] = assessment.AnswerInput{QuestionID: fmt.Sprintf("q%d", q), Expected: "1", Submitted: "0", Concept: "sine"}
			if q < c.correct {
				inputs[q].Submitted = "1"
			}
		}
		rec, err := assessment.NewRecord(shared.StudentID(id), c.kind, inputs, baseTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.AppendAssessment(context.Background(), rec))
	}
}

func TestCompareCohorts(t *testing.T) {
	store := memory.NewStore()
	addStudent(t, store, "A1", shared.CohortTutor)
	addStudent(t, store, "A2", shared.CohortTutor)
	addStudent(t, store, "A3", shared.CohortTutor)
	addStudent(t, store, "B1", shared.CohortChat)
	addStudent(t, store, "B2", shared.CohortChat)
	addScores(t, store, "A1", 4, 8)
	addScores(t, store, "A2", 5, 7)
	addScores(t, store, "A3", 5, -1)
	addScores(t, store, "B1", 5, 6)
	addScores(t, store, "B2", 6, 7)

	events := &recorder{}
	h := NewCompareCohortsHandler(store, nil, events, quietLogger)

	res, err := h.Handle(context.Background(), CompareCohortsQuery{})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	c := res.Comparison
	assert.Equal(t, assessment.WinnerA, c.Winner)
	assert.Equal(t, shared.CohortTutor, c.A.Cohort)
	assert.Equal(t, 3, c.A.Students)
	assert.Equal(t, 2, c.A.Eligible)
	assert.Equal(t, []shared.StudentID{"A3"}, c.A.Excluded)
	assert.InDelta(t, 0.3, c.A.Improvement, 1e-9)
	assert.InDelta(t, 0.1, c.B.Improvement, 1e-9)
	require.Len(t, events.events, 1)
	assert.Equal(t, shared.EventComparisonComputed, events.events[0].EventType())

	again, err := h.Handle(context.Background(), CompareCohortsQuery{})
	require.NoError(t, err)
	if diff := cmp.Diff(res.Comparison, again.Comparison); diff != "" {
		t.Errorf("comparison is not stable (-first +second):\n%s", diff)
	}
}

func TestCompareCohorts_InsufficientData(t *testing.T) {
	store := memory.NewStore()
	addStudent(t, store, "A1", shared.CohortTutor)
	addStudent(t, store, "B1", shared.CohortChat)
	addScores(t, store, "A1", 4, 8)

	res, err := NewCompareCohortsHandler(store, nil, nil, quietLogger).Handle(context.Background(), CompareCohortsQuery{})
	require.NoError(t, err)
	assert.Equal(t, assessment.WinnerInsufficientData, res.Comparison.Winner)
	assert.ErrorIs(t, res.Err(), shared.ErrInsufficientData)
	assert.True(t, res.Comparison.B.InsufficientData)
	assert.Equal(t, []shared.StudentID{"B1"}, res.Comparison.B.Excluded)
}

func TestCompareCohorts_Tie(t *testing.T) {
	store := memory.NewStore()
	addStudent(t, store, "A1", shared.CohortTutor)
	addStudent(t, store, "B1", shared.CohortChat)
	addScores(t, store, "A1", 3, 6)
	addScores(t, store, "B1", 5, 8)

	res, err := NewCompareCohortsHandler(store, assessment.NewEngine(assessment.WithEpsilon(1e-6)), nil, nil).
		Handle(context.Background(), CompareCohortsQuery{})
	require.NoError(t, err)
	assert.Equal(t, assessment.WinnerTie, res.Comparison.Winner)
}

func TestGetStudent(t *testing.T) {
	store := memory.NewStore()
	addStudent(t, store, "A1", shared.CohortTutor)
	addScores(t, store, "A1", 4, 8)

	view := projections.NewLearningView()
	view.Apply(shared.NewSessionStartedEvent("A1", "sess-1", "sine", 4))

	h := NewGetStudentHandler(store, view)
	res, err := h.Handle(context.Background(), GetStudentQuery{StudentID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, shared.CohortTutor, res.Profile.Cohort)
	assert.Len(t, res.Assessments, 2)
	require.NotNil(t, res.Activity)
	assert.Equal(t, 1, res.Activity.SessionsStarted)

	_, err = h.Handle(context.Background(), GetStudentQuery{StudentID: "nobody"})
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	res, err = NewGetStudentHandler(store, nil).Handle(context.Background(), GetStudentQuery{StudentID: "A1"})
	require.NoError(t, err)
	assert.Nil(t, res.Activity)
}

func TestGetAndListSessions(t *testing.T) {
	sessions := memory.NewSessionStore()
	open := tutoring.NewSession("A1", baseTime)
	require.NoError(t, sessions.Save(context.Background(), open))
	other := tutoring.NewSession("B1", baseTime)
	require.NoError(t, sessions.Save(context.Background(), other))

	get := NewGetSessionHandler(sessions)
	got, err := get.Handle(context.Background(), GetSessionQuery{StudentID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, open.ID, got.ID)

	_, err = get.Handle(context.Background(), GetSessionQuery{StudentID: "A1", SessionID: other.ID})
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	list, err := NewListSessionsHandler(sessions).Handle(context.Background(), ListSessionsQuery{StudentID: "A1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)
	assert.Equal(t, "2025-03-01T10:00:00Z", list[0].StartedAt)
}

func TestBuildReport(t *testing.T) {
	store := memory.NewStore()
	addStudent(t, store, "B1", shared.CohortChat)
	addStudent(t, store, "A1", shared.CohortTutor)
	addScores(t, store, "A1", 4, 8)
	addScores(t, store, "B1", 5, 6)
	require.NoError(t, store.SaveRating(context.Background(), assessment.PerformanceRating{StudentID: "A1", Kind: assessment.KindPre}))

	compare := NewCompareCohortsHandler(store, nil, nil, quietLogger)
	data, err := NewBuildReportHandler(store, compare).Handle(context.Background())
	require.NoError(t, err)
	require.Len(t, data.Records, 4)
	assert.Equal(t, shared.StudentID("A1"), data.Records[0].StudentID)
	assert.Equal(t, assessment.KindPre, data.Records[0].Kind)
	assert.Len(t, data.Ratings, 1)
	assert.Equal(t, assessment.WinnerA, data.Comparison.Winner)
}
