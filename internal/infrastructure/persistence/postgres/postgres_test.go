package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t,
		"host=localhost port=5432 dbname=tutor user=postgres password= sslmode=disable connect_timeout=10",
		cfg.DSN())

	cfg.URL = "postgres://u:p@db:5433/x?sslmode=require"
	assert.Equal(t, cfg.URL, cfg.DSN())

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, "db", pc.ConnConfig.Host)
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

// newTestConn connects to TUTOR_TEST_DATABASE_URL, migrates and truncates,
// or skips.
func newTestConn(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TUTOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TUTOR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `TRUNCATE students, assessments, performance_ratings, tutoring_sessions CASCADE`)
	require.NoError(t, err)
	return conn
}

func TestStudentRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStudentRepository(newTestConn(t))

	p, err := student.NewProfile(student.NewProfileParams{ID: "STU001", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	require.NoError(t, repo.CreateProfile(ctx, p))
	assert.ErrorIs(t, repo.CreateProfile(ctx, p), shared.ErrStudentAlreadyExists)

	now := time.Now().UTC().Truncate(time.Millisecond)
	p.RecordMisconception("inverse_as_reciprocal", now)
	p.AddNote(student.NoteSessionCompleted, "s1", "done", now)
	p.ApplyRating([]string{"cosine"}, []string{"sine"}, shared.DifficultyHard)
	require.NoError(t, repo.PutProfile(ctx, p))
	require.NoError(t, repo.PutProfile(ctx, p))

	got, err := repo.GetProfile(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, []string{"cosine"}, got.WeakAreas)
	assert.Equal(t, shared.DifficultyHard, got.Difficulty)
	require.Len(t, got.Misconceptions, 1)
	require.Len(t, got.ProgressNotes, 1)

	_, err = repo.GetProfile(ctx, "STU404")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	rec, err := assessment.NewRecord("STU001", assessment.KindPre,
		[]assessment.AnswerInput{{QuestionID: "q1", Expected: "0.5", Submitted: "1/2"}}, now)
	require.NoError(t, err)
	require.NoError(t, repo.AppendAssessment(ctx, rec))
	require.NoError(t, repo.AppendAssessment(ctx, rec))

	recs, err := repo.ListCohortAssessments(ctx, shared.CohortTutor)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.Answers, recs[0].Answers)

	require.NoError(t, repo.SaveRating(ctx, assessment.FallbackRating(rec)))
	ratings, err := repo.ListRatings(ctx, "STU001")
	require.NoError(t, err)
	assert.Len(t, ratings, 1)
}

func TestSessionRepository_OneActivePerStudent(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	profiles := NewStudentRepository(conn)
	sessions := NewSessionRepository(conn)

	p, err := student.NewProfile(student.NewProfileParams{ID: "STU001", Cohort: shared.CohortTutor})
	require.NoError(t, err)
	require.NoError(t, profiles.CreateProfile(ctx, p))

	first := tutoring.NewSession("STU001", time.Now())
	require.NoError(t, sessions.Save(ctx, first))
	assert.ErrorIs(t, sessions.Save(ctx, tutoring.NewSession("STU001", time.Now())), shared.ErrSessionActive)

	active, err := sessions.Active(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	first.State = tutoring.StateAbandoned
	require.NoError(t, sessions.Save(ctx, first))
	_, err = sessions.Active(ctx, "STU001")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}
