package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

const selectProfile = `
	SELECT id, cohort, weak_areas, strong_areas, difficulty, learning_style, created_at, updated_at
	FROM students`

// CreateProfile registers a new student.
func (r *StudentRepository) CreateProfile(ctx context.Context, p *student.Profile) error {
	return r.conn.WithTx(ctx, readWrite, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, cohort, weak_areas, strong_areas, difficulty, learning_style, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(p.ID), string(p.Cohort), nonNil(p.WeakAreas), nonNil(p.StrongAreas),
			int(p.Difficulty), p.LearningStyle, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrStudentAlreadyExists
			}
			return fmt.Errorf("insert student: %w", err)
		}
		return writeChildren(ctx, tx, p)
	})
}

// GetProfile loads a profile with its misconceptions and notes.
func (r *StudentRepository) GetProfile(ctx context.Context, id shared.StudentID) (*student.Profile, error) {
	var p *student.Profile
	err := r.conn.WithTx(ctx, readOnly, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, selectProfile+` WHERE id = $1`, string(id)))
		if err != nil {
			return err
		}
		return loadChildren(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PutProfile overwrites mutable fields, upserts misconceptions by tag and
// appends notes whose seq is not stored yet.
func (r *StudentRepository) PutProfile(ctx context.Context, p *student.Profile) error {
	return r.conn.WithTx(ctx, readWrite, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE students SET
				weak_areas = $2,
				strong_areas = $3,
				difficulty = $4,
				learning_style = $5,
				updated_at = $6
			WHERE id = $1`,
			string(p.ID), nonNil(p.WeakAreas), nonNil(p.StrongAreas),
			int(p.Difficulty), p.LearningStyle, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrStudentNotFound
		}
		return writeChildren(ctx, tx, p)
	})
}

// ListProfiles returns students of a cohort ordered by ID. An empty cohort
// returns everyone.
func (r *StudentRepository) ListProfiles(ctx context.Context, cohort shared.Cohort) ([]*student.Profile, error) {
	var out []*student.Profile
	err := r.conn.WithTx(ctx, readOnly, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectProfile+` WHERE ($1::text = '' OR cohort = $1) ORDER BY id`, string(cohort))
		if err != nil {
			return fmt.Errorf("list students: %w", err)
		}
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range out {
			if err := loadChildren(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func scanProfile(row pgx.Row) (*student.Profile, error) {
	var (
		p          student.Profile
		id, cohort string
		difficulty int
	)
	err := row.Scan(&id, &cohort, &p.WeakAreas, &p.StrongAreas, &difficulty, &p.LearningStyle, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("scan student: %w", err)
	}
	p.ID = shared.StudentID(id)
	p.Cohort = shared.Cohort(cohort)
	p.Difficulty = shared.Difficulty(difficulty)
	return &p, nil
}

func loadChildren(ctx context.Context, q Querier, p *student.Profile) error {
	rows, err := q.Query(ctx, `
		SELECT tag, first_seen, last_seen, count FROM misconceptions
		WHERE student_id = $1 ORDER BY first_seen, tag`, string(p.ID))
	if err != nil {
		return fmt.Errorf("load misconceptions: %w", err)
	}
	p.Misconceptions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (student.Misconception, error) {
		var m student.Misconception
		err := row.Scan(&m.Tag, &m.FirstSeen, &m.LastSeen, &m.Count)
		return m, err
	})
	if err != nil {
		return fmt.Errorf("scan misconceptions: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT seq, kind, session_id, text, at FROM progress_notes
		WHERE student_id = $1 ORDER BY seq`, string(p.ID))
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	p.ProgressNotes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (student.ProgressNote, error) {
		var (
			n    student.ProgressNote
			kind string
		)
		err := row.Scan(&n.Seq, &kind, &n.SessionID, &n.Text, &n.At)
		n.Kind = student.NoteKind(kind)
		return n, err
	})
	if err != nil {
		return fmt.Errorf("scan notes: %w", err)
	}
	return nil
}

func writeChildren(ctx context.Context, tx pgx.Tx, p *student.Profile) error {
	batch := &pgx.Batch{}
	for _, m := range p.Misconceptions {
		batch.Queue(`
			INSERT INTO misconceptions (student_id, tag, first_seen, last_seen, count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (student_id, tag) DO UPDATE SET
				last_seen = GREATEST(misconceptions.last_seen, EXCLUDED.last_seen),
				count = GREATEST(misconceptions.count, EXCLUDED.count)`,
			string(p.ID), m.Tag, m.FirstSeen, m.LastSeen, m.Count)
	}
	for _, n := range p.ProgressNotes {
		batch.Queue(`
			INSERT INTO progress_notes (student_id, seq, kind, session_id, text, at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (student_id, seq) DO NOTHING`,
			string(p.ID), n.Seq, string(n.Kind), n.SessionID, n.Text, n.At)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write profile children: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assessments
// ─────────────────────────────────────────────────────────────────────────────

// AppendAssessment stores an immutable record. Re-appending the same record
// ID is a no-op.
func (r *StudentRepository) AppendAssessment(ctx context.Context, rec assessment.Record) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO assessments (id, student_id, kind, answers, taken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.StudentID), string(rec.Kind), answers, rec.TakenAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrStudentNotFound
		}
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

const selectAssessment = `SELECT a.id, a.student_id, a.kind, a.answers, a.taken_at FROM assessments a`

// ListAssessments returns a student's records in the order taken.
func (r *StudentRepository) ListAssessments(ctx context.Context, id shared.StudentID, kind assessment.Kind) ([]assessment.Record, error) {
	rows, err := r.conn.Query(ctx, selectAssessment+`
		WHERE a.student_id = $1 AND ($2::text = '' OR a.kind = $2)
		ORDER BY a.taken_at, a.id`, string(id), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return pgx.CollectRows(rows, scanRecord)
}

// ListCohortAssessments returns every record of a cohort's students.
func (r *StudentRepository) ListCohortAssessments(ctx context.Context, cohort shared.Cohort) ([]assessment.Record, error) {
	rows, err := r.conn.Query(ctx, selectAssessment+`
		JOIN students s ON s.id = a.student_id
		WHERE ($1::text = '' OR s.cohort = $1)
		ORDER BY a.student_id, a.taken_at, a.id`, string(cohort))
	if err != nil {
		return nil, fmt.Errorf("list cohort assessments: %w", err)
	}
	return pgx.CollectRows(rows, scanRecord)
}

func scanRecord(row pgx.CollectableRow) (assessment.Record, error) {
	var (
		rec             assessment.Record
		studentID, kind string
		answers         []byte
	)
	if err := row.Scan(&rec.ID, &studentID, &kind, &answers, &rec.TakenAt); err != nil {
		return rec, err
	}
	rec.StudentID = shared.StudentID(studentID)
	rec.Kind = assessment.Kind(kind)
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return rec, fmt.Errorf("decode answers of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ratings
// ─────────────────────────────────────────────────────────────────────────────

// SaveRating stores a performance rating.
func (r *StudentRepository) SaveRating(ctx context.Context, rating assessment.PerformanceRating) error {
	payload, err := json.Marshal(rating)
	if err != nil {
		return fmt.Errorf("marshal rating: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO performance_ratings (student_id, record_id, rating, rated_at)
		VALUES ($1, $2, $3, $4)`,
		string(rating.StudentID), rating.RecordID, payload, rating.RatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// ListRatings returns a student's ratings oldest first.
func (r *StudentRepository) ListRatings(ctx context.Context, id shared.StudentID) ([]assessment.PerformanceRating, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT rating FROM performance_ratings WHERE student_id = $1 ORDER BY rated_at, id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (assessment.PerformanceRating, error) {
		var (
			data   []byte
			rating assessment.PerformanceRating
		)
		if err := row.Scan(&data); err != nil {
			return rating, err
		}
		return rating, json.Unmarshal(data, &rating)
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ student.Repository = (*StudentRepository)(nil)
