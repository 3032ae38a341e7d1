package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

// SessionStore implements tutoring.SessionRepository with JSON snapshots.
//
// Keys:
//
//	session:<id>                 snapshot
//	session:active:<student>     id of the open session
//	session:by-student:<student> set of all session ids
type SessionStore struct {
	cache *Cache
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(cache *Cache) *SessionStore {
	return &SessionStore{cache: cache}
}

// Save writes a snapshot and keeps the active pointer in sync.
func (s *SessionStore) Save(ctx context.Context, sess *tutoring.Session) error {
	student := string(sess.StudentID)
	activeKey := s.cache.key(prefixActiveSession, student)

	data, err := marshalSession(sess)
	if err != nil {
		return err
	}

	_, err = s.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.cache.key(prefixSession, sess.ID), data, TTLSession)
		pipe.SAdd(ctx, s.cache.key(prefixStudentIndex, student), sess.ID)
		pipe.Expire(ctx, s.cache.key(prefixStudentIndex, student), TTLSession)
		if sess.IsClosed() {
			// Only clear the pointer if it still refers to this session.
			pipe.Eval(ctx, compareAndDelete, []string{activeKey}, sess.ID)
		} else {
			pipe.Set(ctx, activeKey, sess.ID, TTLSession)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save session %s: %w", sess.ID, err)
	}
	return nil
}

// Get loads a session snapshot.
func (s *SessionStore) Get(ctx context.Context, id string) (*tutoring.Session, error) {
	data, err := s.cache.client.Get(ctx, s.cache.key(prefixSession, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: get session %s: %w", id, err)
	}
	return unmarshalSession(data)
}

// Active returns the open session of a student.
func (s *SessionStore) Active(ctx context.Context, studentID shared.StudentID) (*tutoring.Session, error) {
	id, err := s.cache.client.Get(ctx, s.cache.key(prefixActiveSession, string(studentID))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: active session: %w", err)
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsClosed() {
		return nil, shared.ErrSessionNotFound
	}
	return sess, nil
}

// ListByStudent returns all stored sessions of a student, oldest first.
func (s *SessionStore) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*tutoring.Session, error) {
	ids, err := s.cache.client.SMembers(ctx, s.cache.key(prefixStudentIndex, string(studentID))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list sessions: %w", err)
	}
	out := make([]*tutoring.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, shared.ErrSessionNotFound) {
			continue // snapshot expired
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
