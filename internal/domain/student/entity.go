package student

import (
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Misconception - зафиксированное заблуждение студента.
type Misconception struct {
	// Tag - имя сигнатуры заблуждения, например "inverse_as_reciprocal".
	Tag string `json:"tag" toml:"tag"`

	// FirstSeen - когда заблуждение впервые обнаружено.
	FirstSeen time.Time `json:"first_seen" toml:"first_seen"`

	// LastSeen - когда заблуждение обнаружено в последний раз.
	LastSeen time.Time `json:"last_seen" toml:"last_seen"`

	// Count - сколько раз заблуждение было обнаружено.
	Count int `json:"count" toml:"count"`
}

// NoteKind определяет источник заметки о прогрессе.
type NoteKind string

const (
	// NoteSessionCompleted - сессия репетитора завершена.
	NoteSessionCompleted NoteKind = "session_completed"
	// NoteSessionAbandoned - студент покинул сессию.
	NoteSessionAbandoned NoteKind = "session_abandoned"
	// NoteAssessment - результат тестирования.
	NoteAssessment NoteKind = "assessment"
	// NoteChat - сводка диалога в контрольной когорте.
	NoteChat NoteKind = "chat"
)

// ProgressNote - запись в журнале прогресса студента (только добавление).
type ProgressNote struct {
	// Seq - порядковый номер заметки внутри профиля (1, 2, ...).
	Seq int `json:"seq" toml:"seq"`

	Kind      NoteKind  `json:"kind" toml:"kind"`
	SessionID string    `json:"session_id,omitempty" toml:"session_id,omitempty"`
	Text      string    `json:"text" toml:"text"`
	At        time.Time `json:"at" toml:"at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile - постоянная память студента.
type Profile struct {
	// ID - уникальный идентификатор студента, например "STU001".
	ID shared.StudentID

	// Cohort - экспериментальная группа.
	Cohort shared.Cohort

	// WeakAreas - темы, в которых студент ошибается (множество, отсортировано).
	WeakAreas []string

	// StrongAreas - темы, которые студент освоил (множество, отсортировано).
	StrongAreas []string

	// Difficulty - текущий оценочный уровень.
	Difficulty shared.Difficulty

	// LearningStyle - предпочитаемый стиль объяснений.
	LearningStyle string

	// Misconceptions - заблуждения, дедуплицированные по тегу.
	Misconceptions []Misconception

	// ProgressNotes - упорядоченный журнал прогресса.
	ProgressNotes []ProgressNote

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultLearningStyle используется, пока стиль не уточнён.
const DefaultLearningStyle = "visual"

// NewProfileParams содержит параметры для регистрации студента.
type NewProfileParams struct {
	ID     string
	Cohort shared.Cohort
}

// NewProfile создаёт профиль с валидацией.
func NewProfile(params NewProfileParams) (*Profile, error) {
	id, err := shared.NewStudentID(params.ID)
	if err != nil {
		return nil, err
	}
	if !params.Cohort.IsValid() {
		return nil, shared.ErrInvalidCohort
	}

	now := time.Now().UTC()
	return &Profile{
		ID:            id,
		Cohort:        params.Cohort,
		Difficulty:    shared.DefaultDifficulty,
		LearningStyle: DefaultLearningStyle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// RecordMisconception фиксирует заблуждение. Повторное обнаружение того же
// тега обновляет только LastSeen и Count. Возвращает актуальную запись и
// признак того, что запись новая.
func (p *Profile) RecordMisconception(tag string, at time.Time) (Misconception, bool) {
	tag = strings.TrimSpace(tag)
	at = at.UTC()

	for i := range p.Misconceptions {
		if p.Misconceptions[i].Tag == tag {
			if at.After(p.Misconceptions[i].LastSeen) {
				p.Misconceptions[i].LastSeen = at
			}
			p.Misconceptions[i].Count++
			p.UpdatedAt = at
			return p.Misconceptions[i], false
		}
	}

	m := Misconception{Tag: tag, FirstSeen: at, LastSeen: at, Count: 1}
	p.Misconceptions = append(p.Misconceptions, m)
	p.UpdatedAt = at
	return m, true
}

// HasMisconception проверяет, было ли заблуждение уже зафиксировано.
func (p *Profile) HasMisconception(tag string) bool {
	for _, m := range p.Misconceptions {
		if m.Tag == tag {
			return true
		}
	}
	return false
}

// AddNote добавляет заметку в конец журнала и присваивает ей номер.
func (p *Profile) AddNote(kind NoteKind, sessionID, text string, at time.Time) ProgressNote {
	note := ProgressNote{
		Seq:       len(p.ProgressNotes) + 1,
		Kind:      kind,
		SessionID: sessionID,
		Text:      strings.TrimSpace(text),
		At:        at.UTC(),
	}
	p.ProgressNotes = append(p.ProgressNotes, note)
	p.UpdatedAt = note.At
	return note
}

// ApplyRating обновляет слабые и сильные темы и уровень по результату
// анализа тестирования. Тема не может быть одновременно слабой и сильной:
// последняя оценка побеждает.
func (p *Profile) ApplyRating(weak, strong []string, difficulty shared.Difficulty) {
	weakSet := toSet(p.WeakAreas)
	strongSet := toSet(p.StrongAreas)

	for _, c := range weak {
		c = string(shared.NormalizeConcept(c))
		if c == "" {
			continue
		}
		weakSet[c] = true
		delete(strongSet, c)
	}
	for _, c := range strong {
		c = string(shared.NormalizeConcept(c))
		if c == "" {
			continue
		}
		strongSet[c] = true
		delete(weakSet, c)
	}

	p.WeakAreas = fromSet(weakSet)
	p.StrongAreas = fromSet(strongSet)
	if difficulty.IsValid() {
		p.Difficulty = difficulty
	}
	p.UpdatedAt = time.Now().UTC()
}

// IsWeakIn проверяет, отмечена ли тема как слабая.
func (p *Profile) IsWeakIn(concept shared.ConceptTag) bool {
	for _, c := range p.WeakAreas {
		if c == string(concept) {
			return true
		}
	}
	return false
}

// RecentNotes возвращает последние n заметок.
func (p *Profile) RecentNotes(n int) []ProgressNote {
	if n <= 0 || len(p.ProgressNotes) == 0 {
		return nil
	}
	if n > len(p.ProgressNotes) {
		n = len(p.ProgressNotes)
	}
	return p.ProgressNotes[len(p.ProgressNotes)-n:]
}

// Clone возвращает глубокую копию профиля.
func (p *Profile) Clone() *Profile {
	c := *p
	c.WeakAreas = append([]string(nil), p.WeakAreas...)
	c.StrongAreas = append([]string(nil), p.StrongAreas...)
	c.Misconceptions = append([]Misconception(nil), p.Misconceptions...)
	c.ProgressNotes = append([]ProgressNote(nil), p.ProgressNotes...)
	return &c
}

// Merge применяет входящий профиль к сохранённому по правилам хранилища:
// изменяемые поля перезаписываются, заблуждения обновляются по тегу,
// заметки только добавляются (по номеру Seq). Повторное слияние того же
// профиля результата не меняет.
func Merge(stored, incoming *Profile) *Profile {
	if stored == nil {
		return incoming.Clone()
	}
	out := incoming.Clone()
	out.CreatedAt = stored.CreatedAt

	byTag := make(map[string]int, len(stored.Misconceptions))
	merged := append([]Misconception(nil), stored.Misconceptions...)
	for i, m := range merged {
		byTag[m.Tag] = i
	}
	for _, m := range incoming.Misconceptions {
		if i, ok := byTag[m.Tag]; ok {
			merged[i] = m
			continue
		}
		byTag[m.Tag] = len(merged)
		merged = append(merged, m)
	}
	out.Misconceptions = merged

	notes := append([]ProgressNote(nil), stored.ProgressNotes...)
	last := 0
	if len(notes) > 0 {
		last = notes[len(notes)-1].Seq
	}
	for _, n := range incoming.ProgressNotes {
		if n.Seq > last {
			notes = append(notes, n)
			last = n.Seq
		}
	}
	out.ProgressNotes = notes
	return out
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

func fromSet(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
