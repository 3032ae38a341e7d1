package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// SessionRepository implements tutoring.SessionRepository with JSONB
// snapshots. A partial unique index enforces one open session per student.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// Save upserts the snapshot.
func (r *SessionRepository) Save(ctx context.Context, s *tutoring.Session) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO tutoring_sessions (id, student_id, state, concept, snapshot, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			concept = EXCLUDED.concept,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		s.ID, string(s.StudentID), string(s.State), string(s.Concept), snapshot, s.StartedAt, s.UpdatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			return shared.ErrSessionActive
		case IsForeignKeyViolation(err):
			return shared.ErrStudentNotFound
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get loads a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*tutoring.Session, error) {
	return scanSession(r.conn.QueryRow(ctx, `SELECT snapshot FROM tutoring_sessions WHERE id = $1`, id))
}

// Active returns the open session of a student.
func (r *SessionRepository) Active(ctx context.Context, studentID shared.StudentID) (*tutoring.Session, error) {
	return scanSession(r.conn.QueryRow(ctx, `
		SELECT snapshot FROM tutoring_sessions
		WHERE student_id = $1 AND state NOT IN ('SESSION_COMPLETE', 'SESSION_ABANDONED')`,
		string(studentID)))
}

// ListByStudent returns all sessions of a student, oldest first.
func (r *SessionRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*tutoring.Session, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT snapshot FROM tutoring_sessions WHERE student_id = $1 ORDER BY started_at, id`,
		string(studentID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tutoring.Session, error) {
		return scanSession(row)
	})
}

func scanSession(row pgx.Row) (*tutoring.Session, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var s tutoring.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

var _ tutoring.SessionRepository = (*SessionRepository)(nil)
