package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID identifies a student, e.g. "STU001".
type StudentID string

var studentIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// IsValid checks if the student ID has an acceptable shape.
func (s StudentID) IsValid() bool {
	return studentIDRegex.MatchString(string(s))
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Cohort Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Cohort is the teaching treatment a student is assigned to.
type Cohort string

const (
	// CohortTutor receives the Socratic tutor.
	CohortTutor Cohort = "1"

	// CohortChat receives plain question answering (control group).
	CohortChat Cohort = "2"
)

// AllCohorts lists the cohorts in comparison order.
var AllCohorts = []Cohort{CohortTutor, CohortChat}

// IsValid checks if the cohort is one of the known treatments.
func (c Cohort) IsValid() bool {
	return c == CohortTutor || c == CohortChat
}

// String returns the string representation.
func (c Cohort) String() string {
	return string(c)
}

// Label returns the comparison side label ("A" or "B").
func (c Cohort) Label() string {
	switch c {
	case CohortTutor:
		return "A"
	case CohortChat:
		return "B"
	default:
		return "?"
	}
}

// DisplayName returns a human-readable treatment name.
func (c Cohort) DisplayName() string {
	switch c {
	case CohortTutor:
		return "Customized Tutor"
	case CohortChat:
		return "Chat Interface"
	default:
		return "Unknown"
	}
}

// NewCohort parses a cohort from "1", "2", "A", "B", "tutor" or "chat".
func NewCohort(value string) (Cohort, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "a", "tutor":
		return CohortTutor, nil
	case "2", "b", "chat":
		return CohortChat, nil
	default:
		return "", ErrInvalidCohort
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Concept Tag Value Object
// ═══════════════════════════════════════════════════════════════════════════

// ConceptTag names a concept family, e.g. "sine" or "inverse".
type ConceptTag string

// NormalizeConcept lowercases and trims a free-form concept tag.
func NormalizeConcept(s string) ConceptTag {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return ConceptTag(s)
}

// String returns the string representation.
func (c ConceptTag) String() string {
	return string(c)
}

// ═══════════════════════════════════════════════════════════════════════════
// Difficulty Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Difficulty is the estimated level a student is working at. Values are ordered.
type Difficulty int

const (
	DifficultyEasy Difficulty = iota + 1
	DifficultyModerate
	DifficultyHard
	DifficultyExpert
)

// DefaultDifficulty is assigned before any assessment has been analyzed.
const DefaultDifficulty = DifficultyModerate

// IsValid checks if the difficulty is within the known range.
func (d Difficulty) IsValid() bool {
	return d >= DifficultyEasy && d <= DifficultyExpert
}

// String returns the canonical name of the level.
func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "Easy"
	case DifficultyModerate:
		return "Moderate"
	case DifficultyHard:
		return "Hard"
	case DifficultyExpert:
		return "Expert"
	default:
		return "Unknown"
	}
}

// ParseDifficulty parses a level name. "intermediate" is accepted as Moderate.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "beginner":
		return DifficultyEasy, nil
	case "moderate", "intermediate", "medium":
		return DifficultyModerate, nil
	case "hard", "advanced":
		return DifficultyHard, nil
	case "expert":
		return DifficultyExpert, nil
	default:
		return 0, ErrInvalidDifficulty
	}
}

// DifficultyForScore maps a 0..1 score to a level band.
func DifficultyForScore(score float64) Difficulty {
	switch {
	case score >= 0.9:
		return DifficultyExpert
	case score >= 0.7:
		return DifficultyHard
	case score >= 0.4:
		return DifficultyModerate
	default:
		return DifficultyEasy
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
