package tutoring

import (
	"context"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// SessionRepository persists session snapshots so an interrupted session can
// be resumed.
type SessionRepository interface {
	// Save writes a snapshot of the session.
	Save(ctx context.Context, s *Session) error

	// Get loads a session by ID.
	// Returns shared.ErrSessionNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Active returns the open session of a student, if any.
	// Returns shared.ErrSessionNotFound if there is none.
	Active(ctx context.Context, studentID shared.StudentID) (*Session, error)

	// ListByStudent returns all sessions of a student, oldest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Session, error)
}

// SlotLocker serializes turns for one student. A second concurrent turn for
// the same student must fail fast with shared.ErrSessionBusy.
type SlotLocker interface {
	// TryLock acquires the student's slot. The returned function releases it.
	TryLock(ctx context.Context, studentID shared.StudentID, ttl time.Duration) (release func(), err error)
}

// ResourceHints supplies short learning-resource references for a concept.
type ResourceHints interface {
	Hints(concept shared.ConceptTag, limit int) []string
}
