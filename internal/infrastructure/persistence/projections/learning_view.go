// Package projections implements read models for the CQRS side of the app.
// Projections are denormalized views fed by domain events and optimized for
// fast reads; they can always be rebuilt from the event stream.
package projections

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING VIEW - Denormalized Read Model of Study Activity
// ══════════════════════════════════════════════════════════════════════════════

// LearningView aggregates tutoring and assessment activity per student.
type LearningView struct {
	mu sync.RWMutex

	cards map[shared.StudentID]*LearningCard

	lastUpdated time.Time
	version     int64
}

// LearningCard is the activity summary of one student.
type LearningCard struct {
	StudentID shared.StudentID `json:"student_id"`
	Cohort    shared.Cohort    `json:"cohort,omitempty"`

	SessionsStarted   int `json:"sessions_started"`
	SessionsCompleted int `json:"sessions_completed"`
	SessionsAbandoned int `json:"sessions_abandoned"`
	StepsCompleted    int `json:"steps_completed"`
	TutorOutages      int `json:"tutor_outages"`

	// Misconceptions counts detections per tag.
	Misconceptions map[string]int `json:"misconceptions,omitempty"`

	// Concepts lists concepts of started sessions, sorted.
	Concepts []string `json:"concepts,omitempty"`

	PreScore   *float64 `json:"pre_score,omitempty"`
	FinalScore *float64 `json:"final_score,omitempty"`

	ActiveSessionID string    `json:"active_session_id,omitempty"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// CohortActivity is the per-cohort aggregate of LearningCards.
type CohortActivity struct {
	Cohort            shared.Cohort `json:"cohort"`
	Students          int           `json:"students"`
	SessionsCompleted int           `json:"sessions_completed"`
	SessionsAbandoned int           `json:"sessions_abandoned"`
	Misconceptions    int           `json:"misconceptions"`
}

// NewLearningView creates an empty view.
func NewLearningView() *LearningView {
	return &LearningView{cards: make(map[shared.StudentID]*LearningCard)}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Apply folds one event into the view. Unknown events are ignored.
func (v *LearningView) Apply(event shared.Event) {
	if event == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := shared.StudentID(event.AggregateID())
	at := event.OccurredAt()

	switch e := event.(type) {
	case shared.StudentRegisteredEvent:
		card := v.card(id)
		card.Cohort = shared.Cohort(e.Cohort)
	case shared.SessionStartedEvent:
		card := v.card(id)
		card.SessionsStarted++
		card.ActiveSessionID = e.SessionID
		card.Concepts = addSorted(card.Concepts, e.Concept)
	case shared.StepCompletedEvent:
		v.card(id).StepsCompleted++
	case shared.SessionClosedEvent:
		card := v.card(id)
		if e.EventType() == shared.EventSessionCompleted {
			card.SessionsCompleted++
		} else {
			card.SessionsAbandoned++
		}
		if card.ActiveSessionID == e.SessionID {
			card.ActiveSessionID = ""
		}
	case shared.MisconceptionDetectedEvent:
		card := v.card(id)
		if card.Misconceptions == nil {
			card.Misconceptions = make(map[string]int)
		}
		card.Misconceptions[e.Tag]++
	case shared.TutorUnavailableEvent:
		v.card(id).TutorOutages++
	case shared.AssessmentSubmittedEvent:
		card := v.card(id)
		if card.Cohort == "" {
			card.Cohort = shared.Cohort(e.Cohort)
		}
		score := e.Score
		switch e.Kind {
		case "pre":
			card.PreScore = &score
		case "final":
			card.FinalScore = &score
		}
	default:
		return
	}

	card := v.cards[id]
	if at.After(card.LastActivityAt) {
		card.LastActivityAt = at
	}
	v.lastUpdated = time.Now()
	v.version++
}

// card returns the card for id, creating it. Caller holds the lock.
func (v *LearningView) card(id shared.StudentID) *LearningCard {
	c, ok := v.cards[id]
	if !ok {
		c = &LearningCard{StudentID: id}
		v.cards[id] = c
	}
	return c
}

// Reset empties the view before a rebuild.
func (v *LearningView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = make(map[shared.StudentID]*LearningCard)
	v.version++
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns a copy of a student's card.
func (v *LearningView) Get(_ context.Context, id shared.StudentID) (*LearningCard, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c, ok := v.cards[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Cohort returns the aggregate for a cohort.
func (v *LearningView) Cohort(cohort shared.Cohort) CohortActivity {
	v.mu.RLock()
	defer v.mu.RUnlock()

	agg := CohortActivity{Cohort: cohort}
	for _, c := range v.cards {
		if c.Cohort != cohort {
			continue
		}
		agg.Students++
		agg.SessionsCompleted += c.SessionsCompleted
		agg.SessionsAbandoned += c.SessionsAbandoned
		for _, n := range c.Misconceptions {
			agg.Misconceptions += n
		}
	}
	return agg
}

// All returns copies of all cards sorted by student ID.
func (v *LearningView) All() []*LearningCard {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*LearningCard, 0, len(v.cards))
	for _, c := range v.cards {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Version is incremented on every applied event.
func (v *LearningView) Version() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// LastUpdated returns when the view last changed.
func (v *LearningView) LastUpdated() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastUpdated
}

func (c *LearningCard) clone() *LearningCard {
	cp := *c
	cp.Concepts = append([]string(nil), c.Concepts...)
	if c.Misconceptions != nil {
		cp.Misconceptions = make(map[string]int, len(c.Misconceptions))
		for k, n := range c.Misconceptions {
			cp.Misconceptions[k] = n
		}
	}
	if c.PreScore != nil {
		s := *c.PreScore
		cp.PreScore = &s
	}
	if c.FinalScore != nil {
		s := *c.FinalScore
		cp.FinalScore = &s
	}
	return &cp
}

func addSorted(list []string, item string) []string {
	if item == "" {
		return list
	}
	i := sort.SearchStrings(list, item)
	if i < len(list) && list[i] == item {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = item
	return list
}
