// Package filestore keeps each student in one TOML file under a data
// directory. It needs no server and is the default for classroom runs.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

const (
	studentsDir     = "students"
	fileExt         = ".toml"
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".student-*.toml.tmp"
)

// Store implements student.Repository on TOML files.
type Store struct {
	dir string
	mu  sync.RWMutex
}

var _ student.Repository = (*Store)(nil)

// NewStore opens (and creates) a data directory.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, studentsDir), dirMode); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id shared.StudentID) string {
	return filepath.Join(s.dir, studentsDir, string(id)+fileExt)
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) GetProfile(ctx context.Context, id shared.StudentID) (*student.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return f.profile()
}

func (s *Store) CreateProfile(ctx context.Context, p *student.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.ID.IsValid() {
		return shared.ErrInvalidStudentID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(p.ID)); err == nil {
		return shared.ErrStudentAlreadyExists
	}
	return s.write(p.ID, &studentFile{
		Version:        schemaVersion,
		Profile:        toSchema(p),
		Misconceptions: p.Misconceptions,
		Notes:          p.ProgressNotes,
	})
}

func (s *Store) PutProfile(ctx context.Context, p *student.Profile) error {
	return s.update(ctx, p.ID, func(f *studentFile) error {
		stored, err := f.profile()
		if err != nil {
			return err
		}
		merged := student.Merge(stored, p)
		f.Profile = toSchema(merged)
		f.Misconceptions = merged.Misconceptions
		f.Notes = merged.ProgressNotes
		return nil
	})
}

func (s *Store) ListProfiles(ctx context.Context, cohort shared.Cohort) ([]*student.Profile, error) {
	files, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*student.Profile
	for _, f := range files {
		if cohort != "" && shared.Cohort(f.Profile.Cohort) != cohort {
			continue
		}
		p, err := f.profile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assessments and ratings
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) AppendAssessment(ctx context.Context, rec assessment.Record) error {
	return s.update(ctx, rec.StudentID, func(f *studentFile) error {
		for _, r := range f.Assessments {
			if r.ID == rec.ID {
				return nil
			}
		}
		f.Assessments = append(f.Assessments, rec)
		sort.SliceStable(f.Assessments, func(i, j int) bool {
			return f.Assessments[i].TakenAt.Before(f.Assessments[j].TakenAt)
		})
		return nil
	})
}

func (s *Store) ListAssessments(ctx context.Context, id shared.StudentID, kind assessment.Kind) ([]assessment.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.read(id)
	if errors.Is(err, shared.ErrStudentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return filterKind(f.Assessments, kind), nil
}

func (s *Store) ListCohortAssessments(ctx context.Context, cohort shared.Cohort) ([]assessment.Record, error) {
	files, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []assessment.Record
	for _, f := range files {
		if cohort == "" || shared.Cohort(f.Profile.Cohort) == cohort {
			out = append(out, f.Assessments...)
		}
	}
	return out, nil
}

func (s *Store) SaveRating(ctx context.Context, rating assessment.PerformanceRating) error {
	return s.update(ctx, rating.StudentID, func(f *studentFile) error {
		f.Ratings = append(f.Ratings, rating)
		return nil
	})
}

func (s *Store) ListRatings(ctx context.Context, id shared.StudentID) ([]assessment.PerformanceRating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.read(id)
	if errors.Is(err, shared.ErrStudentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.Ratings, nil
}

func filterKind(records []assessment.Record, kind assessment.Kind) []assessment.Record {
	if kind == "" {
		return records
	}
	var out []assessment.Record
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// File I/O
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) update(ctx context.Context, id shared.StudentID, fn func(*studentFile) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read(id)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.write(id, f)
}

func (s *Store) read(id shared.StudentID) (*studentFile, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidStudentID
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("read student file: %w", err)
	}
	var f studentFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode student file %s: %w", id, err)
	}
	if err := f.validateVersion(); err != nil {
		return nil, err
	}
	return &f, nil
}

// readAll returns every student file ordered by student ID.
func (s *Store) readAll(ctx context.Context) ([]*studentFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, studentsDir))
	if err != nil {
		return nil, fmt.Errorf("list student files: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)

	out := make([]*studentFile, 0, len(ids))
	for _, id := range ids {
		f, err := s.read(shared.StudentID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// write replaces the student file atomically via a temp file and rename.
func (s *Store) write(id shared.StudentID, f *studentFile) error {
	f.Version = schemaVersion
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode student file: %w", err)
	}

	dir := filepath.Join(s.dir, studentsDir)
	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp student file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp student file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp student file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp student file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return fmt.Errorf("replace student file: %w", err)
	}
	cleanup = false
	return nil
}
