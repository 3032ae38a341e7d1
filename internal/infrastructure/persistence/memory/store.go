// Package memory provides process-local implementations of the tutor's
// repositories. It backs the test suites and single-process demo runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// Store implements student.Repository.
type Store struct {
	mu          sync.RWMutex
	profiles    map[shared.StudentID]*student.Profile
	assessments map[shared.StudentID][]assessment.Record
	ratings     map[shared.StudentID][]assessment.PerformanceRating
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		profiles:    make(map[shared.StudentID]*student.Profile),
		assessments: make(map[shared.StudentID][]assessment.Record),
		ratings:     make(map[shared.StudentID][]assessment.PerformanceRating),
	}
}

func (s *Store) GetProfile(_ context.Context, id shared.StudentID) (*student.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return p.Clone(), nil
}

func (s *Store) PutProfile(_ context.Context, profile *student.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.ID] = student.Merge(s.profiles[profile.ID], profile)
	return nil
}

func (s *Store) CreateProfile(_ context.Context, profile *student.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.ID]; ok {
		return shared.ErrStudentAlreadyExists
	}
	s.profiles[profile.ID] = profile.Clone()
	return nil
}

func (s *Store) ListProfiles(_ context.Context, cohort shared.Cohort) ([]*student.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*student.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if cohort == "" || p.Cohort == cohort {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendAssessment(_ context.Context, record assessment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[record.StudentID]; !ok {
		return shared.ErrStudentNotFound
	}
	for _, r := range s.assessments[record.StudentID] {
		if r.ID == record.ID {
			return nil
		}
	}
	s.assessments[record.StudentID] = append(s.assessments[record.StudentID], record)
	sort.SliceStable(s.assessments[record.StudentID], func(i, j int) bool {
		return s.assessments[record.StudentID][i].TakenAt.Before(s.assessments[record.StudentID][j].TakenAt)
	})
	return nil
}

func (s *Store) ListAssessments(_ context.Context, id shared.StudentID, kind assessment.Kind) ([]assessment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []assessment.Record
	for _, r := range s.assessments[id] {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListCohortAssessments(ctx context.Context, cohort shared.Cohort) ([]assessment.Record, error) {
	profiles, err := s.ListProfiles(ctx, cohort)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []assessment.Record
	for _, p := range profiles {
		out = append(out, s.assessments[p.ID]...)
	}
	return out, nil
}

func (s *Store) SaveRating(_ context.Context, rating assessment.PerformanceRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ratings[rating.StudentID] = append(s.ratings[rating.StudentID], rating)
	return nil
}

func (s *Store) ListRatings(_ context.Context, id shared.StudentID) ([]assessment.PerformanceRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]assessment.PerformanceRating(nil), s.ratings[id]...), nil
}

var _ student.Repository = (*Store)(nil)
