package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// SessionStore implements tutoring.SessionRepository. Sessions are stored
// as JSON snapshots so callers never share mutable state with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	order    []string
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]byte)}
}

func (s *SessionStore) Save(_ context.Context, sess *tutoring.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		s.order = append(s.order, sess.ID)
	}
	s.sessions[sess.ID] = data
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*tutoring.Session, error) {
	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return decode(data)
}

func (s *SessionStore) Active(ctx context.Context, studentID shared.StudentID) (*tutoring.Session, error) {
	all, err := s.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].IsClosed() {
			return all[i], nil
		}
	}
	return nil, shared.ErrSessionNotFound
}

func (s *SessionStore) ListByStudent(_ context.Context, studentID shared.StudentID) ([]*tutoring.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*tutoring.Session
	for _, id := range s.order {
		sess, err := decode(s.sessions[id])
		if err != nil {
			return nil, err
		}
		if sess.StudentID == studentID {
			out = append(out, sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func decode(data []byte) (*tutoring.Session, error) {
	var sess tutoring.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SlotLocker implements tutoring.SlotLocker with one in-process slot per
// student. Expired slots are reclaimed on the next TryLock.
type SlotLocker struct {
	mu    sync.Mutex
	slots map[shared.StudentID]slot
	now   func() time.Time
}

type slot struct {
	token   uint64
	expires time.Time
}

// NewSlotLocker creates a SlotLocker.
func NewSlotLocker() *SlotLocker {
	return &SlotLocker{slots: make(map[shared.StudentID]slot), now: time.Now}
}

var lockTokens atomic.Uint64

func (l *SlotLocker) TryLock(_ context.Context, studentID shared.StudentID, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.slots[studentID]; ok && (ttl <= 0 || cur.expires.IsZero() || now.Before(cur.expires)) {
		return nil, shared.ErrSessionBusy
	}

	s := slot{token: lockTokens.Add(1)}
	if ttl > 0 {
		s.expires = now.Add(ttl)
	}
	l.slots[studentID] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.slots[studentID]; ok && cur.token == s.token {
				delete(l.slots, studentID)
			}
		})
	}, nil
}

var (
	_ tutoring.SessionRepository = (*SessionStore)(nil)
	_ tutoring.SlotLocker        = (*SlotLocker)(nil)
)
