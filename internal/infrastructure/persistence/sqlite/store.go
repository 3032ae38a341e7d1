// Package sqlite is an embedded single-file Store for lab machines without
// a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// Store implements student.Repository on SQLite.
type Store struct {
	db *sqlx.DB
}

var _ student.Repository = (*Store)(nil)

// Open connects to the database file, enables foreign keys and creates the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id             TEXT PRIMARY KEY,
	cohort         TEXT NOT NULL CHECK (cohort IN ('1', '2')),
	weak_areas     TEXT NOT NULL DEFAULT '',
	strong_areas   TEXT NOT NULL DEFAULT '',
	difficulty     INTEGER NOT NULL DEFAULT 2,
	learning_style TEXT NOT NULL DEFAULT 'visual',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS misconceptions (
	student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	tag        TEXT NOT NULL,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL,
	count      INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (student_id, tag)
);

CREATE TABLE IF NOT EXISTS progress_notes (
	student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	at         TIMESTAMP NOT NULL,
	PRIMARY KEY (student_id, seq)
);

CREATE TABLE IF NOT EXISTS assessments (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL CHECK (kind IN ('pre', 'final')),
	answers    TEXT NOT NULL,
	taken_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_student ON assessments(student_id, taken_at);

CREATE TABLE IF NOT EXISTS performance_ratings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	record_id  TEXT NOT NULL,
	rating     TEXT NOT NULL,
	rated_at   TIMESTAMP NOT NULL
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Rows
// ─────────────────────────────────────────────────────────────────────────────

type studentRow struct {
	ID            string    `db:"id"`
	Cohort        string    `db:"cohort"`
	WeakAreas     string    `db:"weak_areas"`
	StrongAreas   string    `db:"strong_areas"`
	Difficulty    int       `db:"difficulty"`
	LearningStyle string    `db:"learning_style"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type misconceptionRow struct {
	StudentID string    `db:"student_id"`
	Tag       string    `db:"tag"`
	FirstSeen time.Time `db:"first_seen"`
	LastSeen  time.Time `db:"last_seen"`
	Count     int       `db:"count"`
}

type noteRow struct {
	StudentID string    `db:"student_id"`
	Seq       int       `db:"seq"`
	Kind      string    `db:"kind"`
	SessionID string    `db:"session_id"`
	Text      string    `db:"text"`
	At        time.Time `db:"at"`
}

type assessmentRow struct {
	ID        string    `db:"id"`
	StudentID string    `db:"student_id"`
	Kind      string    `db:"kind"`
	Answers   string    `db:"answers"`
	TakenAt   time.Time `db:"taken_at"`
}

// Concept lists are stored comma-joined; concept tags never contain commas.
func joinAreas(a []string) string { return strings.Join(a, ",") }

func splitAreas(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func toRow(p *student.Profile) studentRow {
	return studentRow{
		ID:            string(p.ID),
		Cohort:        string(p.Cohort),
		WeakAreas:     joinAreas(p.WeakAreas),
		StrongAreas:   joinAreas(p.StrongAreas),
		Difficulty:    int(p.Difficulty),
		LearningStyle: p.LearningStyle,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (r studentRow) profile() *student.Profile {
	return &student.Profile{
		ID:            shared.StudentID(r.ID),
		Cohort:        shared.Cohort(r.Cohort),
		WeakAreas:     splitAreas(r.WeakAreas),
		StrongAreas:   splitAreas(r.StrongAreas),
		Difficulty:    shared.Difficulty(r.Difficulty),
		LearningStyle: r.LearningStyle,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) CreateProfile(ctx context.Context, p *student.Profile) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO students (id, cohort, weak_areas, strong_areas, difficulty, learning_style, created_at, updated_at)
			VALUES (:id, :cohort, :weak_areas, :strong_areas, :difficulty, :learning_style, :created_at, :updated_at)`,
			toRow(p))
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
				return shared.ErrStudentAlreadyExists
			}
			return fmt.Errorf("insert student: %w", err)
		}
		return writeChildren(ctx, tx, p)
	})
}

func (s *Store) GetProfile(ctx context.Context, id shared.StudentID) (*student.Profile, error) {
	var row studentRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM students WHERE id = ?`, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	p := row.profile()
	if err := s.loadChildren(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) PutProfile(ctx context.Context, p *student.Profile) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			UPDATE students SET
				weak_areas = :weak_areas,
				strong_areas = :strong_areas,
				difficulty = :difficulty,
				learning_style = :learning_style,
				updated_at = :updated_at
			WHERE id = :id`, toRow(p))
		if err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return shared.ErrStudentNotFound
		}
		return writeChildren(ctx, tx, p)
	})
}

func (s *Store) ListProfiles(ctx context.Context, cohort shared.Cohort) ([]*student.Profile, error) {
	var rows []studentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM students WHERE (? = '' OR cohort = ?) ORDER BY id`, string(cohort), string(cohort))
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	out := make([]*student.Profile, 0, len(rows))
	for _, r := range rows {
		p := r.profile()
		if err := s.loadChildren(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) loadChildren(ctx context.Context, p *student.Profile) error {
	var ms []misconceptionRow
	if err := s.db.SelectContext(ctx, &ms,
		`SELECT * FROM misconceptions WHERE student_id = ? ORDER BY first_seen, tag`, string(p.ID)); err != nil {
		return fmt.Errorf("load misconceptions: %w", err)
	}
	for _, m := range ms {
		p.Misconceptions = append(p.Misconceptions, student.Misconception{
			Tag: m.Tag, FirstSeen: m.FirstSeen, LastSeen: m.LastSeen, Count: m.Count,
		})
	}

	var ns []noteRow
	if err := s.db.SelectContext(ctx, &ns,
		`SELECT * FROM progress_notes WHERE student_id = ? ORDER BY seq`, string(p.ID)); err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	for _, n := range ns {
		p.ProgressNotes = append(p.ProgressNotes, student.ProgressNote{
			Seq: n.Seq, Kind: student.NoteKind(n.Kind), SessionID: n.SessionID, Text: n.Text, At: n.At,
		})
	}
	return nil
}

func writeChildren(ctx context.Context, tx *sqlx.Tx, p *student.Profile) error {
	for _, m := range p.Misconceptions {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO misconceptions (student_id, tag, first_seen, last_seen, count)
			VALUES (:student_id, :tag, :first_seen, :last_seen, :count)
			ON CONFLICT (student_id, tag) DO UPDATE SET
				last_seen = MAX(last_seen, excluded.last_seen),
				count = MAX(count, excluded.count)`,
			misconceptionRow{StudentID: string(p.ID), Tag: m.Tag, FirstSeen: m.FirstSeen.UTC(), LastSeen: m.LastSeen.UTC(), Count: m.Count})
		if err != nil {
			return fmt.Errorf("upsert misconception %s: %w", m.Tag, err)
		}
	}
	for _, n := range p.ProgressNotes {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO progress_notes (student_id, seq, kind, session_id, text, at)
			VALUES (:student_id, :seq, :kind, :session_id, :text, :at)
			ON CONFLICT (student_id, seq) DO NOTHING`,
			noteRow{StudentID: string(p.ID), Seq: n.Seq, Kind: string(n.Kind), SessionID: n.SessionID, Text: n.Text, At: n.At.UTC()})
		if err != nil {
			return fmt.Errorf("insert note %d: %w", n.Seq, err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assessments and ratings
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) AppendAssessment(ctx context.Context, rec assessment.Record) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO assessments (id, student_id, kind, answers, taken_at)
		VALUES (:id, :student_id, :kind, :answers, :taken_at)
		ON CONFLICT (id) DO NOTHING`,
		assessmentRow{ID: rec.ID, StudentID: string(rec.StudentID), Kind: string(rec.Kind), Answers: string(answers), TakenAt: rec.TakenAt.UTC()})
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return shared.ErrStudentNotFound
		}
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *Store) ListAssessments(ctx context.Context, id shared.StudentID, kind assessment.Kind) ([]assessment.Record, error) {
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM assessments
		WHERE student_id = ? AND (? = '' OR kind = ?)
		ORDER BY taken_at, id`, string(id), string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return decodeRecords(rows)
}

func (s *Store) ListCohortAssessments(ctx context.Context, cohort shared.Cohort) ([]assessment.Record, error) {
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.* FROM assessments a
		JOIN students s ON s.id = a.student_id
		WHERE (? = '' OR s.cohort = ?)
		ORDER BY a.student_id, a.taken_at, a.id`, string(cohort), string(cohort))
	if err != nil {
		return nil, fmt.Errorf("list cohort assessments: %w", err)
	}
	return decodeRecords(rows)
}

func decodeRecords(rows []assessmentRow) ([]assessment.Record, error) {
	out := make([]assessment.Record, 0, len(rows))
	for _, r := range rows {
		rec := assessment.Record{
			ID:        r.ID,
			StudentID: shared.StudentID(r.StudentID),
			Kind:      assessment.Kind(r.Kind),
			TakenAt:   r.TakenAt,
		}
		if err := json.Unmarshal([]byte(r.Answers), &rec.Answers); err != nil {
			return nil, fmt.Errorf("decode answers of %s: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SaveRating(ctx context.Context, rating assessment.PerformanceRating) error {
	payload, err := json.Marshal(rating)
	if err != nil {
		return fmt.Errorf("marshal rating: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO performance_ratings (student_id, record_id, rating, rated_at) VALUES (?, ?, ?, ?)`,
		string(rating.StudentID), rating.RecordID, string(payload), rating.RatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (s *Store) ListRatings(ctx context.Context, id shared.StudentID) ([]assessment.PerformanceRating, error) {
	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads,
		`SELECT rating FROM performance_ratings WHERE student_id = ? ORDER BY rated_at, id`, string(id)); err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	out := make([]assessment.PerformanceRating, 0, len(payloads))
	for _, p := range payloads {
		var r assessment.PerformanceRating
		if err := json.Unmarshal([]byte(p), &r); err != nil {
			return nil, fmt.Errorf("decode rating: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}
