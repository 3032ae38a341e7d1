package filestore

import (
	"fmt"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

const schemaVersion = 1

// studentFile is the on-disk layout of students/<id>.toml.
type studentFile struct {
	Version        int                            `toml:"version"`
	Profile        profileSchema                  `toml:"profile"`
	Misconceptions []student.Misconception        `toml:"misconceptions,omitempty"`
	Notes          []student.ProgressNote         `toml:"notes,omitempty"`
	Assessments    []assessment.Record            `toml:"assessments,omitempty"`
	Ratings        []assessment.PerformanceRating `toml:"ratings,omitempty"`
}

type profileSchema struct {
	ID            string    `toml:"id"`
	Cohort        string    `toml:"cohort"`
	WeakAreas     []string  `toml:"weak_areas"`
	StrongAreas   []string  `toml:"strong_areas"`
	Difficulty    string    `toml:"difficulty"`
	LearningStyle string    `toml:"learning_style"`
	CreatedAt     time.Time `toml:"created_at"`
	UpdatedAt     time.Time `toml:"updated_at"`
}

func (f *studentFile) validateVersion() error {
	if f.Version == 0 {
		f.Version = schemaVersion
	}
	if f.Version > schemaVersion {
		return fmt.Errorf("unsupported student file version %d", f.Version)
	}
	return nil
}

func toSchema(p *student.Profile) profileSchema {
	return profileSchema{
		ID:            string(p.ID),
		Cohort:        string(p.Cohort),
		WeakAreas:     append([]string{}, p.WeakAreas...),
		StrongAreas:   append([]string{}, p.StrongAreas...),
		Difficulty:    p.Difficulty.String(),
		LearningStyle: p.LearningStyle,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (f *studentFile) profile() (*student.Profile, error) {
	d, err := shared.ParseDifficulty(f.Profile.Difficulty)
	if err != nil {
		d = shared.DefaultDifficulty
	}
	p := &student.Profile{
		ID:             shared.StudentID(f.Profile.ID),
		Cohort:         shared.Cohort(f.Profile.Cohort),
		WeakAreas:      f.Profile.WeakAreas,
		StrongAreas:    f.Profile.StrongAreas,
		Difficulty:     d,
		LearningStyle:  f.Profile.LearningStyle,
		Misconceptions: f.Misconceptions,
		ProgressNotes:  f.Notes,
		CreatedAt:      f.Profile.CreatedAt,
		UpdatedAt:      f.Profile.UpdatedAt,
	}
	if !p.ID.IsValid() {
		return nil, fmt.Errorf("student file has invalid id %q", f.Profile.ID)
	}
	return p.Clone(), nil
}
